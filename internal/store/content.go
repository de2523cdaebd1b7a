// ABOUTME: Tagged content variant shared by persistence and the backend boundary
// ABOUTME: A Content is either plain text or an ordered list of typed fragments

package store

import (
	"encoding/json"
	"fmt"
)

// Fragment kinds for multi-fragment content
const (
	FragmentText  = "text"
	FragmentImage = "image_url"
)

// Fragment is one typed piece of a multi-fragment content value.
// Text fragments carry Text; image fragments carry an inline data URL.
type Fragment struct {
	Kind    string
	Text    string
	DataURL string
}

// TextFragment builds a text fragment.
func TextFragment(text string) Fragment {
	return Fragment{Kind: FragmentText, Text: text}
}

// ImageFragment builds an image fragment from an inline data URL.
func ImageFragment(dataURL string) Fragment {
	return Fragment{Kind: FragmentImage, DataURL: dataURL}
}

// Content is a closed variant: either a plain string or an ordered fragment
// sequence. Exactly one of the two representations is populated.
type Content struct {
	text      string
	fragments []Fragment
	multi     bool
}

// Text builds plain-text content.
func Text(s string) Content {
	return Content{text: s}
}

// Fragments builds multi-fragment content.
func Fragments(frags []Fragment) Content {
	return Content{fragments: frags, multi: true}
}

// IsMulti reports whether the content is a fragment sequence.
func (c Content) IsMulti() bool { return c.multi }

// PlainText returns the plain string form. For multi-fragment content it
// returns the concatenation of the text fragments only.
func (c Content) PlainText() string {
	if !c.multi {
		return c.text
	}
	var out string
	for _, f := range c.fragments {
		if f.Kind == FragmentText {
			out += f.Text
		}
	}
	return out
}

// FragmentList returns the fragment sequence (nil for plain text content).
func (c Content) FragmentList() []Fragment {
	return c.fragments
}

// wire shapes used for both SQLite persistence and the chat-completions API.
type wireFragment struct {
	Type     string        `json:"type"`
	Text     *string       `json:"text,omitempty"`
	ImageURL *wireImageURL `json:"image_url,omitempty"`
}

type wireImageURL struct {
	URL string `json:"url"`
}

// MarshalJSON encodes the content in OpenAI message-content shape: a JSON
// string for plain text, an array of typed parts for fragments.
func (c Content) MarshalJSON() ([]byte, error) {
	if !c.multi {
		return json.Marshal(c.text)
	}
	parts := make([]wireFragment, 0, len(c.fragments))
	for _, f := range c.fragments {
		switch f.Kind {
		case FragmentText:
			text := f.Text
			parts = append(parts, wireFragment{Type: "text", Text: &text})
		case FragmentImage:
			parts = append(parts, wireFragment{Type: "image_url", ImageURL: &wireImageURL{URL: f.DataURL}})
		default:
			return nil, fmt.Errorf("unknown fragment kind %q", f.Kind)
		}
	}
	return json.Marshal(parts)
}

// UnmarshalJSON decodes either representation.
func (c *Content) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = Text(s)
		return nil
	}

	var parts []wireFragment
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("content is neither string nor fragment list: %w", err)
	}
	frags := make([]Fragment, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case "text":
			text := ""
			if p.Text != nil {
				text = *p.Text
			}
			frags = append(frags, TextFragment(text))
		case "image_url":
			url := ""
			if p.ImageURL != nil {
				url = p.ImageURL.URL
			}
			frags = append(frags, ImageFragment(url))
		default:
			return fmt.Errorf("unknown content part type %q", p.Type)
		}
	}
	*c = Fragments(frags)
	return nil
}
