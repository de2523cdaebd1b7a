// ABOUTME: Pure content extraction for inbound attachments
// ABOUTME: Turns document bytes into text and image bytes into inline data URLs

package extract

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/net/html"
)

// ErrUnsupportedFormat is returned for file extensions the extractor
// does not understand. It aborts only the item that carried the file.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Text extracts plain text from a document based on its file extension.
// Supported: .txt, .docx, .pptx, .fb2.
func Text(data []byte, name string) (string, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt":
		return string(data), nil
	case ".docx":
		return docxText(data)
	case ".pptx":
		return pptxText(data)
	case ".fb2":
		return markupText(data), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
}

// ImageDataURL encodes image bytes as an inline base64 data URL.
// The MIME type comes from the file extension, falling back to content
// sniffing when the extension is unknown.
func ImageDataURL(data []byte, name string) string {
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Truncate caps s at limit runes, appending marker when anything was cut.
func Truncate(s string, limit int, marker string) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + marker
}

// docxText pulls paragraph text out of word/document.xml.
// A .docx file is a zip archive; paragraphs are <w:p> elements containing
// <w:t> text runs.
func docxText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening docx archive: %w", err)
	}

	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("opening document.xml: %w", err)
		}
		defer rc.Close()
		return wordMLText(rc, "p", "t")
	}
	return "", fmt.Errorf("docx archive has no word/document.xml")
}

// pptxText pulls shape text out of the slide XML files, in slide order.
func pptxText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pptx archive: %w", err)
	}

	var slides []*zip.File
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, "ppt/slides/slide") && strings.HasSuffix(f.Name, ".xml") {
			slides = append(slides, f)
		}
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].Name < slides[j].Name })

	var lines []string
	for _, f := range slides {
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("opening %s: %w", f.Name, err)
		}
		text, err := wordMLText(rc, "", "t")
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("parsing %s: %w", f.Name, err)
		}
		if text != "" {
			lines = append(lines, text)
		}
	}
	return strings.Join(lines, "\n"), nil
}

// wordMLText streams an Office XML document and collects the character data
// inside text elements (local name textEl), inserting a newline at the end of
// each paragraph element (local name paraEl, empty to split per text element).
func wordMLText(r io.Reader, paraEl, textEl string) (string, error) {
	dec := xml.NewDecoder(r)
	var sb strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("decoding xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == textEl {
				inText = true
			}
		case xml.EndElement:
			if t.Name.Local == textEl {
				inText = false
				if paraEl == "" {
					sb.WriteString("\n")
				}
			}
			if paraEl != "" && t.Name.Local == paraEl {
				sb.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// markupText strips tags from FB2 (or any XML/HTML-ish markup) and returns
// the text content, one block per line.
func markupText(data []byte) string {
	tz := html.NewTokenizer(bytes.NewReader(data))
	var lines []string
	for {
		switch tz.Next() {
		case html.ErrorToken:
			return strings.Join(lines, "\n")
		case html.StartTagToken:
			// FB2 is XML, not HTML: elements like <title> hold child
			// elements, never the raw text the HTML tokenizer assumes.
			tz.NextIsNotRawText()
		case html.TextToken:
			if text := strings.TrimSpace(string(tz.Text())); text != "" {
				lines = append(lines, text)
			}
		}
	}
}
