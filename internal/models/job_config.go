package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// EnrichmentType is the closed set of extraction field types
type EnrichmentType string

const (
	EnrichmentTypeText    EnrichmentType = "text"
	EnrichmentTypeNumber  EnrichmentType = "number"
	EnrichmentTypeDate    EnrichmentType = "date"
	EnrichmentTypeOption  EnrichmentType = "option"
	EnrichmentTypeURL     EnrichmentType = "url"
	EnrichmentTypeCompany EnrichmentType = "company"
)

// IsValid checks if the EnrichmentType is a known type
func (t EnrichmentType) IsValid() bool {
	switch t {
	case EnrichmentTypeText, EnrichmentTypeNumber, EnrichmentTypeDate,
		EnrichmentTypeOption, EnrichmentTypeURL, EnrichmentTypeCompany:
		return true
	}
	return false
}

// ValidatorTypeBoolean is the only validator type the service accepts
const ValidatorTypeBoolean = "boolean"

// Validator is a boolean per-article filter. All validators must pass for an
// article to become a record.
type Validator struct {
	Name        string `json:"name" yaml:"name" validate:"required"`
	Description string `json:"description" yaml:"description" validate:"required"`
	Type        string `json:"type" yaml:"type,omitempty" validate:"omitempty,eq=boolean"`
}

// Enrichment is a typed field extracted from each valid record
type Enrichment struct {
	Name        string         `json:"name" yaml:"name" validate:"required"`
	Description string         `json:"description" yaml:"description" validate:"required"`
	Type        EnrichmentType `json:"type" yaml:"type" validate:"required,enrichment_type"`
}

// JobConfig is the submit payload. Treat it as immutable once submitted;
// derive follow-up configurations with Clone.
type JobConfig struct {
	Query       string       `json:"query" yaml:"query" validate:"required"`
	Context     string       `json:"context,omitempty" yaml:"context,omitempty"`
	Limit       int          `json:"limit,omitempty" yaml:"limit,omitempty" validate:"gte=0"`
	StartDate   *FlexTime    `json:"start_date,omitempty" yaml:"-"`
	EndDate     *FlexTime    `json:"end_date,omitempty" yaml:"-"`
	Validators  []Validator  `json:"validators,omitempty" yaml:"validators,omitempty" validate:"omitempty,unique=Name,dive"`
	Enrichments []Enrichment `json:"enrichments,omitempty" yaml:"enrichments,omitempty" validate:"omitempty,unique=Name,dive"`
}

// Clone returns a deep copy
func (c JobConfig) Clone() JobConfig {
	out := c
	if c.StartDate != nil {
		out.StartDate = NewFlexTime(c.StartDate.Time)
	}
	if c.EndDate != nil {
		out.EndDate = NewFlexTime(c.EndDate.Time)
	}
	if c.Validators != nil {
		out.Validators = append([]Validator(nil), c.Validators...)
	}
	if c.Enrichments != nil {
		out.Enrichments = append([]Enrichment(nil), c.Enrichments...)
	}
	return out
}

// DateRange returns the configured window
func (c JobConfig) DateRange() DateRange {
	return DateRange{Start: c.StartDate, End: c.EndDate}
}

// FieldError locates one invalid field, mirroring the API's 422 detail entries
type FieldError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type,omitempty"`
}

func (f FieldError) String() string {
	return fmt.Sprintf("%s: %s", strings.Join(f.Loc, "."), f.Msg)
}

// UnmarshalJSON accepts mixed string/integer location segments
func (f *FieldError) UnmarshalJSON(data []byte) error {
	var raw struct {
		Loc  []interface{} `json:"loc"`
		Msg  string        `json:"msg"`
		Type string        `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.Loc = make([]string, 0, len(raw.Loc))
	for _, part := range raw.Loc {
		switch v := part.(type) {
		case string:
			f.Loc = append(f.Loc, v)
		case float64:
			f.Loc = append(f.Loc, strconv.Itoa(int(v)))
		default:
			f.Loc = append(f.Loc, fmt.Sprint(v))
		}
	}
	f.Msg = raw.Msg
	f.Type = raw.Type
	return nil
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
	indexPattern = regexp.MustCompile(`^(.*)\[(\d+)\]$`)
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = validate.RegisterValidation("enrichment_type", func(fl validator.FieldLevel) bool {
			return EnrichmentType(fl.Field().String()).IsValid()
		})
	})
	return validate
}

// ValidateStruct runs tag validation on any API payload and converts
// failures to body-located field errors.
func ValidateStruct(v interface{}) []FieldError {
	err := getValidator().Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Loc: []string{"body"}, Msg: err.Error()}}
	}

	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{
			Loc:  namespaceToLoc(fe.Namespace()),
			Msg:  fieldMessage(fe),
			Type: fe.Tag(),
		})
	}
	return out
}

// Validate checks the config the same way the service does
func (c JobConfig) Validate() []FieldError {
	errs := ValidateStruct(c)
	if c.StartDate != nil && c.EndDate != nil && !c.StartDate.IsZero() && !c.EndDate.IsZero() &&
		c.EndDate.Before(c.StartDate.Time) {
		errs = append(errs, FieldError{
			Loc:  []string{"body", "end_date"},
			Msg:  "end_date must not be before start_date",
			Type: "date_order",
		})
	}
	return errs
}

// namespaceToLoc turns "JobConfig.enrichments[0].type" into
// ["body", "enrichments", "0", "type"]
func namespaceToLoc(ns string) []string {
	parts := strings.Split(ns, ".")
	loc := []string{"body"}
	for _, part := range parts[1:] {
		if m := indexPattern.FindStringSubmatch(part); m != nil {
			loc = append(loc, m[1], m[2])
			continue
		}
		loc = append(loc, part)
	}
	return loc
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field required"
	case "enrichment_type":
		return fmt.Sprintf("unrecognised enrichment type %q; expected one of text, number, date, option, url, company", fe.Value())
	case "unique":
		return "names must be unique"
	case "eq":
		return fmt.Sprintf("must be %q", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "url":
		return "must be a valid URL"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
