package digest

import "fmt"

// Templates holds the three templates in effect for a scan.
type Templates struct {
	Symlink Template `json:"symlink"`
	File    Template `json:"file"`
	Dir     Template `json:"dir"`
}

// Default templates.
var (
	DefaultFileTemplate    = Template{FieldName, FieldMode, FieldOwner, FieldGroup, FieldMtime, FieldSize, FieldSHA256}
	DefaultSymlinkTemplate = Template{FieldName, FieldLinkTarget, FieldMode, FieldOwner, FieldGroup, FieldMtime}
	DefaultDirTemplate     = Template{FieldName, FieldMode, FieldOwner, FieldGroup, FieldMtime, FieldMetaHashes}
)

// DefaultTemplates returns copies of the default templates.
func DefaultTemplates() Templates {
	return Templates{
		Symlink: append(Template(nil), DefaultSymlinkTemplate...),
		File:    append(Template(nil), DefaultFileTemplate...),
		Dir:     append(Template(nil), DefaultDirTemplate...),
	}
}

var common = []Field{FieldName, FieldPath, FieldMode, FieldOwner, FieldGroup, FieldMtime}

var allowed = map[string]map[Field]struct{}{
	"file":    fieldSet(append(common, FieldSize, FieldSHA256)...),
	"symlink": fieldSet(append(common, FieldLinkTarget)...),
	"dir":     fieldSet(append(common, FieldSize, FieldContentHash, FieldContentHashes, FieldMetaHashes)...),
}

func fieldSet(fs ...Field) map[Field]struct{} {
	m := make(map[Field]struct{}, len(fs))
	for _, f := range fs {
		m[f] = struct{}{}
	}
	return m
}

// Validate checks that each template is non-empty and only references
// fields its record kind can supply.
func (t Templates) Validate() error {
	for kind, tmpl := range map[string]Template{"file": t.File, "symlink": t.Symlink, "dir": t.Dir} {
		if len(tmpl) == 0 {
			return fmt.Errorf("%s template: %w", kind, ErrEmptyTemplate)
		}
		for _, f := range tmpl {
			if _, ok := allowed[kind][f]; !ok {
				return fmt.Errorf("%s template: %w: %s", kind, ErrFieldUnavailable, f)
			}
		}
	}
	return nil
}
