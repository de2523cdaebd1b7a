// Package extract converts inbound file payloads to plain text or data URLs.
// Supported text formats: txt, docx, pptx, fb2. Anything else returns
// ErrUnsupportedFormat.
package extract
