// Package nzbparse parses NZB XML into the segment/file layout the rest of
// the engine works with, and derives the bookkeeping fields spec.md's
// Download record needs but the raw XML doesn't carry: the content hash,
// job name, and category. Grounded on the teacher's internal/nzb package
// (domain.NZB/NZBFile/NZBSegment, nzb.Parser, nzb.GetCategoryName), with
// its DownloadFile/DownloadTask split dropped in favor of a single flat
// parse result the facade turns directly into store rows.
package nzbparse

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/jvz-devx/usenetd/internal/domain"
)

// Document is the root <nzb> element.
type Document struct {
	XMLName xml.Name `xml:"nzb"`
	Meta    []Meta   `xml:"head>meta"`
	Files   []File   `xml:"file"`
}

// Meta is one <meta type="..."> entry inside <head>, most commonly
// type="name" (the release title) or type="password".
type Meta struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

// File is one <file> element: a logical output file reassembled from its
// segments, named by BuildRecords from its subject line (via FileName) at
// parse time; nothing renames it later from the article bodies.
type File struct {
	Subject  string    `xml:"subject,attr"`
	Poster   string    `xml:"poster,attr"`
	Date     int64     `xml:"date,attr"`
	Groups   []string  `xml:"groups>group"`
	Segments []Segment `xml:"segments>segment"`
}

// Segment is one <segment>: a single Usenet article identified by
// message-id (the element's character data).
type Segment struct {
	Number    int    `xml:"number,attr"`
	Bytes     int64  `xml:"bytes,attr"`
	MessageID string `xml:",chardata"`
}

// TotalSize sums every segment's declared byte count.
func (f *File) TotalSize() int64 {
	var total int64
	for _, s := range f.Segments {
		total += s.Bytes
	}
	return total
}

// MetaValue returns the first <meta type="key"> value, or "".
func (d *Document) MetaValue(key string) string {
	for _, m := range d.Meta {
		if m.Type == key {
			return m.Value
		}
	}
	return ""
}

// TotalSize sums every file's TotalSize.
func (d *Document) TotalSize() int64 {
	var total int64
	for _, f := range d.Files {
		total += f.TotalSize()
	}
	return total
}

// Parsed bundles a parsed NZB with the derived fields add_nzb_content needs
// to populate a Download record.
type Parsed struct {
	Doc         *Document
	Hash        string // SHA-256 of the raw NZB bytes, hex-encoded
	NZBMetaName string // <meta type="name">, if present
}

// Parse decodes NZB XML from r and hashes the bytes it read in the same
// pass (tee'd through an io.TeeReader instead of buffering twice).
func Parse(r io.Reader) (*Parsed, error) {
	h := sha256.New()
	tee := io.TeeReader(r, h)

	var doc Document
	dec := xml.NewDecoder(tee)
	// NZBs commonly declare iso-8859-1; each of its bytes is the Unicode
	// code point of the same value, so it converts to UTF-8 byte by byte.
	dec.CharsetReader = func(label string, in io.Reader) (io.Reader, error) {
		if l := strings.ToLower(label); l != "iso-8859-1" && l != "latin1" && l != "us-ascii" {
			return nil, fmt.Errorf("unsupported charset %q", label)
		}
		raw, err := io.ReadAll(in)
		var sb strings.Builder
		for _, b := range raw {
			sb.WriteRune(rune(b))
		}
		return strings.NewReader(sb.String()), err
	}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse nzb: %w", err)
	}
	// Decode can stop before EOF once the root element closes; drain the
	// rest of the stream so the hash covers every byte of the upload.
	if _, err := io.Copy(h, r); err != nil {
		return nil, fmt.Errorf("hash nzb: %w", err)
	}

	if len(doc.Files) == 0 {
		return nil, fmt.Errorf("parse nzb: no <file> elements")
	}

	return &Parsed{
		Doc:         &doc,
		Hash:        hex.EncodeToString(h.Sum(nil)),
		NZBMetaName: doc.MetaValue("name"),
	}, nil
}

// BuildRecords derives the store rows for every file and segment in the
// document: one domain.DownloadFile per <file> (named from its subject
// line via FileName) and one domain.Article per <segment>, addressed by
// message-id. downloadID is 0 here — the facade fills it in after the
// Download row's insert returns its assigned ID.
func (d *Document) BuildRecords() ([]*domain.DownloadFile, []*domain.Article) {
	files := make([]*domain.DownloadFile, 0, len(d.Files))
	var articles []*domain.Article

	for i, f := range d.Files {
		files = append(files, &domain.DownloadFile{
			FileIndex:     i,
			FileName:      FileName(f.Subject),
			Subject:       f.Subject,
			TotalSegments: len(f.Segments),
		})
		for _, seg := range f.Segments {
			articles = append(articles, &domain.Article{
				MessageID:     seg.MessageID,
				FileIndex:     i,
				SegmentNumber: seg.Number,
				SizeBytes:     seg.Bytes,
				Status:        domain.ArticlePending,
			})
		}
	}
	return files, articles
}

// JobName derives the deobfuscated job name for this document: nzbName,
// or the sanitized first file's name when nzbName is empty, falling back
// to the document's own meta title when that candidate looks obfuscated
// (and to the candidate itself when both do), consulted by add_nzb_content before any
// extraction has happened, so extractedFiles is always empty at this
// point — DetermineJobName still applies it later in post-processing to
// refine the name once real file names are known.
func (d *Document) JobName(nzbName string) string {
	candidate := nzbName
	if candidate == "" && len(d.Files) > 0 {
		candidate = FileName(d.Files[0].Subject)
	}
	return DetermineJobName(candidate, d.MetaValue("name"), nil)
}
