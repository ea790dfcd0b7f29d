package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// SourceKind says where a RawInput's payload lives.
type SourceKind int

const (
	SourceFile SourceKind = iota
	SourceInline
	SourceBytes
)

func (k SourceKind) String() string {
	switch k {
	case SourceFile:
		return "file"
	case SourceInline:
		return "inline"
	case SourceBytes:
		return "bytes"
	}
	return "unknown"
}

// RawInput is one document handed to the pipeline. It is not modified by
// ingestion.
type RawInput struct {
	Kind    SourceKind
	Path    string // SourceFile
	Name    string // Attributed source name, defaults to Path
	Content string // SourceInline
	Data    []byte // SourceBytes

	// FormatHint is a declared format such as "markdown" or "html". An
	// unrecognised hint is ignored and the content is classified instead.
	FormatHint string
}

func FromFile(path string) RawInput {
	return RawInput{Kind: SourceFile, Path: path}
}

func FromContent(name, content string) RawInput {
	return RawInput{Kind: SourceInline, Name: name, Content: content}
}

func FromBytes(name string, data []byte) RawInput {
	return RawInput{Kind: SourceBytes, Name: name, Data: data}
}

// WithFormat returns a copy of in carrying a format hint.
func (in RawInput) WithFormat(hint string) RawInput {
	in.FormatHint = hint
	return in
}

// Source returns the name records are attributed to.
func (in RawInput) Source() string {
	switch {
	case in.Name != "":
		return in.Name
	case in.Path != "":
		return in.Path
	}
	return "inline"
}

// ext returns the lower-case extension of the source name.
func (in RawInput) ext() string {
	name := in.Name
	if in.Kind == SourceFile {
		name = in.Path
	}
	return strings.ToLower(filepath.Ext(name))
}

// IOError reports a source that could not be read. It is fatal for that
// source only.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// readContent returns the decoded text of in and its size in bytes.
func readContent(in RawInput) (string, int64, error) {
	switch in.Kind {
	case SourceInline:
		return in.Content, int64(len(in.Content)), nil
	case SourceBytes:
		return decodeBytes(in.Data), int64(len(in.Data)), nil
	case SourceFile:
		data, err := os.ReadFile(in.Path)
		if err != nil {
			return "", 0, &IOError{Path: in.Path, Err: err}
		}
		return decodeBytes(data), int64(len(data)), nil
	}
	return "", 0, fmt.Errorf("unknown source kind %d", in.Kind)
}

// decodeBytes converts data to NFC-normalised UTF-8. Input that is not
// valid UTF-8 is decoded using its BOM, a <meta charset> declaration, or
// windows-1252 as the last resort.
func decodeBytes(data []byte) string {
	out := data
	if !utf8.Valid(data) {
		enc, _, _ := charset.DetermineEncoding(data, "")
		if decoded, _, err := transform.Bytes(enc.NewDecoder(), data); err == nil {
			out = decoded
		}
	}
	s := strings.TrimPrefix(string(out), "\uFEFF")
	return norm.NFC.String(s)
}

// spool writes a byte payload to a temporary file so a FileParser can read
// it. The caller removes the returned directory.
func spool(in RawInput) (dir, path string, err error) {
	dir, err = os.MkdirTemp("", "docchunk-*")
	if err != nil {
		return "", "", fmt.Errorf("create spool dir: %w", err)
	}
	name := filepath.Base(in.Source())
	if name == "." || name == string(filepath.Separator) {
		name = "upload" + in.ext()
	}
	path = filepath.Join(dir, name)
	if err := os.WriteFile(path, in.Data, 0o600); err != nil {
		os.RemoveAll(dir)
		return "", "", fmt.Errorf("spool upload: %w", err)
	}
	return dir, path, nil
}
