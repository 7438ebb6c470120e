// Package digest composes the hash source strings used to fingerprint
// entries and computes the digests over them.
//
// A Template is an ordered list of field names. Composing a template
// against a record resolves each field to its string value and joins the
// values with "+". Per-entry metadata digests are SHA-256 over that string;
// directory rollups are MD5. Both algorithms are part of the persisted
// format and must not be unified.
package digest

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Separator joins field values and child digests.
const Separator = "+"

// EmptySHA256 is the SHA-256 of zero bytes.
const EmptySHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// Field names a value that a template can reference.
type Field string

const (
	FieldName          Field = "name"
	FieldPath          Field = "path"
	FieldMode          Field = "mode"
	FieldOwner         Field = "owner"
	FieldGroup         Field = "group"
	FieldMtime         Field = "mtime"
	FieldSize          Field = "size"
	FieldSHA256        Field = "sha256"
	FieldLinkTarget    Field = "link_target"
	FieldContentHash   Field = "content_hash"
	FieldContentHashes Field = "content_hashes"
	FieldMetaHashes    Field = "meta_hashes"
)

var knownFields = map[Field]struct{}{
	FieldName: {}, FieldPath: {}, FieldMode: {}, FieldOwner: {}, FieldGroup: {},
	FieldMtime: {}, FieldSize: {}, FieldSHA256: {}, FieldLinkTarget: {},
	FieldContentHash: {}, FieldContentHashes: {}, FieldMetaHashes: {},
}

var (
	// ErrUnknownField is returned for a field name outside the known set.
	ErrUnknownField = errors.New("unknown template field")

	// ErrFieldUnavailable is returned when a record cannot supply a field,
	// either because its kind never carries it or because it is absent.
	ErrFieldUnavailable = errors.New("template field unavailable")

	// ErrEmptyTemplate is returned for a template with no fields.
	ErrEmptyTemplate = errors.New("empty template")
)

// Source resolves field values. ok is false when the value is absent.
type Source interface {
	Field(f Field) (value string, ok bool)
}

// Template is an ordered list of fields.
type Template []Field

// ParseTemplate parses "name+mode+size".
func ParseTemplate(s string) (Template, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrEmptyTemplate
	}
	parts := strings.Split(s, Separator)
	return FromStrings(parts)
}

// FromStrings builds a template from field names, validating each.
func FromStrings(names []string) (Template, error) {
	if len(names) == 0 {
		return nil, ErrEmptyTemplate
	}
	t := make(Template, 0, len(names))
	for _, n := range names {
		f := Field(strings.TrimSpace(n))
		if _, ok := knownFields[f]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownField, n)
		}
		t = append(t, f)
	}
	return t, nil
}

// Strings returns the field names in order.
func (t Template) Strings() []string {
	out := make([]string, len(t))
	for i, f := range t {
		out[i] = string(f)
	}
	return out
}

func (t Template) String() string {
	return strings.Join(t.Strings(), Separator)
}

// Compose resolves every field against src and joins the values.
func Compose(t Template, src Source) (string, error) {
	if len(t) == 0 {
		return "", ErrEmptyTemplate
	}
	values := make([]string, len(t))
	for i, f := range t {
		v, ok := src.Field(f)
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrFieldUnavailable, f)
		}
		values[i] = v
	}
	return strings.Join(values, Separator), nil
}

// SHA256Hex returns the lowercase hex SHA-256 of s.
func SHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// MD5Hex returns the lowercase hex MD5 of s.
func MD5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Meta composes t against src and returns the SHA-256 of the source string.
func Meta(t Template, src Source) (string, error) {
	s, err := Compose(t, src)
	if err != nil {
		return "", err
	}
	return SHA256Hex(s), nil
}

// DirMeta composes t against src and returns the MD5 of the source string.
func DirMeta(t Template, src Source) (string, error) {
	s, err := Compose(t, src)
	if err != nil {
		return "", err
	}
	return MD5Hex(s), nil
}

// Rollup joins ordered child digests and returns their MD5.
func Rollup(children []string) string {
	return MD5Hex(strings.Join(children, Separator))
}

// Reader returns the SHA-256 of everything read from r.
func Reader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// File returns the SHA-256 of the file contents at path.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	sum, err := Reader(f)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return sum, nil
}

// Symlink returns the content contribution of a symlink: the SHA-256 of
// its target path.
func Symlink(target string) string {
	return SHA256Hex(target)
}

// IsSHA256Hex reports whether s is 64 lowercase hex characters.
func IsSHA256Hex(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
