package skyport

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/joshp123/gohome-skyport/internal/core"
	"github.com/joshp123/gohome-skyport/internal/manifest"
)

// Call data arrives as JSON values or as the text of a manifest example, so
// the scalar types below accept both forms.

// Int is a whole number given as a JSON number or numeric string.
type Int int64

func (i *Int) UnmarshalJSON(b []byte) error {
	s := unquote(b)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || !finite(f) || f != math.Trunc(f) {
		return fmt.Errorf("%q is not a whole number", s)
	}
	*i = Int(f)
	return nil
}

func (i *Int) value() (any, bool) {
	if i == nil {
		return nil, false
	}
	return int64(*i), true
}

// Float is a number given as a JSON number or numeric string.
type Float float64

func (f *Float) UnmarshalJSON(b []byte) error {
	s := unquote(b)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || !finite(v) {
		return fmt.Errorf("%q is not a number", s)
	}
	*f = Float(v)
	return nil
}

// finite rejects NaN and the infinities, which ParseFloat accepts as text
// but a JSON body cannot carry.
func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func (f *Float) value() (any, bool) {
	if f == nil {
		return nil, false
	}
	return float64(*f), true
}

// Bool accepts true/false, on/off, yes/no and 1/0.
type Bool bool

func (v *Bool) UnmarshalJSON(b []byte) error {
	s := strings.ToLower(unquote(b))
	switch s {
	case "true", "on", "yes", "1":
		*v = true
	case "false", "off", "no", "0":
		*v = false
	default:
		return fmt.Errorf("%q is not a boolean", s)
	}
	return nil
}

func (v *Bool) value() (any, bool) {
	if v == nil {
		return nil, false
	}
	return bool(*v), true
}

// Text is a free-form string field.
type Text string

func (t *Text) value() (any, bool) {
	if t == nil {
		return nil, false
	}
	return string(*t), true
}

type valuer interface {
	value() (any, bool)
}

// Weekday normalises day names to the three letter form used in schedule keys.
// Only the abbreviation or the full English name is accepted, in any case.
type Weekday string

var weekdays = []string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

func (d *Weekday) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("day must be text")
	}
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	for i, day := range weekdays {
		if lower == strings.ToLower(day) || lower == strings.ToLower(time.Weekday(i).String()) {
			*d = Weekday(day)
			return nil
		}
	}
	*d = Weekday(s)
	return nil
}

// Entities is one entity id, a comma separated list, or a JSON list.
type Entities []string

func (e *Entities) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*e = cleanEntities(list)
		return nil
	}
	var one string
	if err := json.Unmarshal(b, &one); err != nil {
		return fmt.Errorf("entity_id must be text or a list of text")
	}
	*e = cleanEntities(strings.Split(one, ","))
	return nil
}

func cleanEntities(in []string) Entities {
	out := make(Entities, 0, len(in))
	for _, item := range in {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// namedInt is an enumeration given as a number or as one of its names.
func namedInt(b []byte, names map[string]int) (Int, error) {
	var i Int
	if err := i.UnmarshalJSON(b); err == nil {
		return i, nil
	}
	if v, ok := names[strings.ToLower(unquote(b))]; ok {
		return Int(v), nil
	}
	keys := make([]string, 0, len(names))
	for k := range names {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return 0, fmt.Errorf("%s is not one of %s", unquote(b), strings.Join(keys, ", "))
}

// HVACMode accepts 0-4 or off, heat, cool, auto, auxheat.
type HVACMode Int

func (m *HVACMode) UnmarshalJSON(b []byte) error {
	v, err := namedInt(b, hvacModes)
	*m = HVACMode(v)
	return err
}

// FanMode accepts 0-2 or auto, on, schedule.
type FanMode Int

func (m *FanMode) UnmarshalJSON(b []byte) error {
	v, err := namedInt(b, fanModes)
	*m = FanMode(v)
	return err
}

func unquote(b []byte) string {
	s := strings.TrimSpace(string(b))
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
	}
	return s
}

// Issue is one rejected field.
type Issue struct {
	Field   string
	Message string
}

// ValidationError reports call data that does not satisfy a service's contract.
type ValidationError struct {
	Service string
	Issues  []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, issue.Field+" "+issue.Message)
	}
	return fmt.Sprintf("service %s: %s", e.Service, strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == core.ErrInvalidArgument
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return jsonName(f)
	})
	return v
}

func jsonName(f reflect.StructField) string {
	name := strings.Split(f.Tag.Get("json"), ",")[0]
	if name == "-" {
		return ""
	}
	return name
}

// decode fills dst from call data field by field, so a bad value is reported
// against its field name, then checks the validate tags.
func decode(service string, data map[string]any, dst any) error {
	rv := reflect.ValueOf(dst).Elem()
	rt := rv.Type()

	known := make(map[string]bool, rt.NumField())
	var issues []Issue
	for i := 0; i < rt.NumField(); i++ {
		name := jsonName(rt.Field(i))
		if name == "" {
			continue
		}
		known[name] = true
		value, ok := data[name]
		if !ok || value == nil {
			continue
		}
		raw, err := json.Marshal(value)
		if err != nil {
			issues = append(issues, Issue{Field: name, Message: err.Error()})
			continue
		}
		if err := json.Unmarshal(raw, rv.Field(i).Addr().Interface()); err != nil {
			issues = append(issues, Issue{Field: name, Message: decodeMessage(err)})
		}
	}

	var unknown []string
	for key := range data {
		if !known[key] {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return &manifest.UnknownFieldsError{Service: service, Fields: unknown}
	}
	if len(issues) > 0 {
		return &ValidationError{Service: service, Issues: issues}
	}

	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return &ValidationError{Service: service, Issues: []Issue{{Field: "request", Message: err.Error()}}}
		}
		for _, fe := range verrs {
			issues = append(issues, Issue{Field: fe.Field(), Message: ruleMessage(fe)})
		}
		return &ValidationError{Service: service, Issues: issues}
	}
	return nil
}

func decodeMessage(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return "must be " + typeErr.Type.String()
	}
	return err.Error()
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	default:
		return fmt.Sprintf("failed %s %s", fe.Tag(), fe.Param())
	}
}
