package chainio

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/Floozutter/stowjar/internal/chain"
)

// Format names a chain encoding.
type Format string

// Supported formats.
const (
	FormatJSON    Format = "json"
	FormatYAML    Format = "yaml"
	FormatTOML    Format = "toml"
	FormatMsgpack Format = "msgpack"
)

// ErrUnknownFormat indicates an unrecognized format name or file extension.
var ErrUnknownFormat = errors.New("unknown chain format")

// Formats lists every supported format.
func Formats() []Format {
	return []Format{FormatJSON, FormatYAML, FormatTOML, FormatMsgpack}
}

// ParseFormat resolves a format name.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "toml":
		return FormatTOML, nil
	case "msgpack", "mp":
		return FormatMsgpack, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

// DetectFormat picks a format from the file extension.
func DetectFormat(path string) (Format, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "", fmt.Errorf("%w: %s has no extension", ErrUnknownFormat, path)
	}
	return ParseFormat(ext)
}

// ResolveFormat uses name when set, otherwise the extension of path.
func ResolveFormat(name, path string) (Format, error) {
	if strings.TrimSpace(name) != "" {
		return ParseFormat(name)
	}
	return DetectFormat(path)
}

// Encode writes doc to w.
func Encode(w io.Writer, format Format, doc Document) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	case FormatTOML:
		return toml.NewEncoder(w).Encode(doc)
	case FormatMsgpack:
		return encodeMsgpack(w, documentValue(doc))
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// Decode reads a document from r.
func Decode(r io.Reader, format Format) (Document, error) {
	var doc Document
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return Document{}, err
		}
	case FormatYAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			return Document{}, err
		}
	case FormatTOML:
		md, err := toml.NewDecoder(r).Decode(&doc)
		if err != nil {
			return Document{}, err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return Document{}, fmt.Errorf("unknown field %q", undecoded[0].String())
		}
	case FormatMsgpack:
		value, err := decodeMsgpack(r)
		if err != nil {
			return Document{}, err
		}
		return documentFromValue(value)
	default:
		return Document{}, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	return doc, nil
}

// Marshal encodes doc into memory.
func Marshal(format Format, doc Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, format, doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile writes the chain atomically through a temp file in the target directory.
func WriteFile(path string, format Format, c *chain.Chain) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create chain dir: %w", err)
	}
	tmpFile, err := os.CreateTemp(filepath.Dir(path), "chain-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp chain: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if err := Encode(tmpFile, format, FromChain(c)); err != nil {
		return fmt.Errorf("failed to encode chain: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close chain: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to write chain: %w", err)
	}
	return nil
}

// ReadDocument loads a document without semantic validation.
func ReadDocument(path string, format Format) (Document, error) {
	file, err := os.Open(path)
	if err != nil {
		return Document{}, err
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			// Best-effort close for read-only chain file.
			_ = cerr
		}
	}()
	doc, err := Decode(file, format)
	if err != nil {
		return Document{}, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return doc, nil
}

// ReadFile loads and validates a chain.
func ReadFile(path string, format Format) (*chain.Chain, error) {
	doc, err := ReadDocument(path, format)
	if err != nil {
		return nil, err
	}
	c, err := doc.Chain()
	if err != nil {
		return nil, fmt.Errorf("invalid chain in %s: %w", path, err)
	}
	return c, nil
}
