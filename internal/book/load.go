package book

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"audiobooker/internal/services"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func projectValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(jsonFieldName)
	})
	return validate
}

// Load reads a compiled project document and validates it.
func Load(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "project", "load", path, err)
		}
		return nil, fmt.Errorf("read project: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a compiled project document. Chapters are
// returned sorted by index and utterance positions are filled in when the
// document omits them.
func Parse(data []byte) (*Project, error) {
	var project Project
	if err := json.Unmarshal(data, &project); err != nil {
		return nil, services.Wrap(services.ErrValidation, "project", "decode", "", err)
	}
	for ci := range project.Chapters {
		for ui := range project.Chapters[ci].Utterances {
			u := &project.Chapters[ci].Utterances[ui]
			if u.Kind == "" {
				u.Kind = KindNarration
			}
		}
	}
	if err := project.Validate(); err != nil {
		return nil, err
	}
	project.normalize()
	return &project, nil
}

// Validate checks field constraints and chapter index uniqueness.
func (p *Project) Validate() error {
	if err := projectValidator().Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return services.Wrap(services.ErrValidation, "project", "validate", describe(verrs), nil)
		}
		return services.Wrap(services.ErrValidation, "project", "validate", "", err)
	}
	seen := make(map[int]struct{}, len(p.Chapters))
	for _, ch := range p.Chapters {
		if _, dup := seen[ch.Index]; dup {
			return services.Wrap(services.ErrValidation, "project", "validate", fmt.Sprintf("duplicate chapter index %d", ch.Index), nil)
		}
		seen[ch.Index] = struct{}{}
		for ui, u := range ch.Utterances {
			if strings.TrimSpace(u.Text) == "" {
				return services.Wrap(services.ErrValidation, "project", "validate", fmt.Sprintf("chapter %d utterance %d has blank text", ch.Index, ui), nil)
			}
		}
	}
	return nil
}

func (p *Project) normalize() {
	sort.SliceStable(p.Chapters, func(i, j int) bool {
		return p.Chapters[i].Index < p.Chapters[j].Index
	})
	for ci := range p.Chapters {
		utterances := p.Chapters[ci].Utterances
		positioned := false
		for _, u := range utterances {
			if u.Position != 0 {
				positioned = true
				break
			}
		}
		if positioned {
			sort.SliceStable(utterances, func(i, j int) bool {
				return utterances[i].Position < utterances[j].Position
			})
			continue
		}
		for ui := range utterances {
			utterances[ui].Position = ui
		}
	}
}

func describe(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Project.")
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return fld.Name
	}
	return name
}
