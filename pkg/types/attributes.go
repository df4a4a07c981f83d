// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// SourceInferred marks a cross-cutting attribute filled by heuristic repair
// rather than by the extractor.
const SourceInferred = "inferred"

// Attributes is the type-specific attribute payload of a Requirement. It is a
// closed sum type: only the variants declared in this file implement it, and
// each carries the fields of exactly one RuleType.
type Attributes interface {
	RuleType() RuleType
	common() *CommonAttributes
}

// CommonAttributes holds fields shared by every variant.
type CommonAttributes struct {
	// ApplicableFields lists data fields the requirement constrains.
	ApplicableFields []string `json:"applicable_fields,omitempty"`

	// ApplicableFieldsSource is "inferred" when ApplicableFields came from repair.
	ApplicableFieldsSource string `json:"applicable_fields_source,omitempty"`

	// DataSource is the system of record the requirement applies to.
	DataSource string `json:"data_source,omitempty"`

	// DataSourceSource is "inferred" when DataSource came from repair.
	DataSourceSource string `json:"data_source_source,omitempty"`

	// Extensions keeps extractor-supplied keys that no variant declares.
	Extensions map[string]any `json:"-"`

	// Invalid keeps known keys whose supplied value had the wrong JSON type.
	Invalid map[string]any `json:"-"`
}

func (c *CommonAttributes) common() *CommonAttributes { return c }

// DataQualityAttributes describes a data_quality_threshold requirement.
type DataQualityAttributes struct {
	CommonAttributes
	Metric               string   `json:"metric,omitempty"`
	MetricType           string   `json:"metric_type,omitempty"`
	ThresholdType        string   `json:"threshold_type,omitempty"`
	ThresholdValue       *float64 `json:"threshold_value,omitempty"`
	Threshold            *float64 `json:"threshold,omitempty"`
	ThresholdDirection   string   `json:"threshold_direction,omitempty"`
	ThresholdUnit        string   `json:"threshold_unit,omitempty"`
	Unit                 string   `json:"unit,omitempty"`
	AppliesTo            string   `json:"applies_to,omitempty"`
	MeasurementFrequency string   `json:"measurement_frequency,omitempty"`
	ExceptionThreshold   any      `json:"exception_threshold,omitempty"`
	Consequence          string   `json:"consequence,omitempty"`
	Escalation           string   `json:"escalation,omitempty"`
}

// OwnershipCategoryAttributes describes an ownership_category requirement.
type OwnershipCategoryAttributes struct {
	CommonAttributes
	OwnershipType        string   `json:"ownership_type,omitempty"`
	RequiredDataElements []string `json:"required_data_elements,omitempty"`
	InsuranceCoverage    string   `json:"insurance_coverage,omitempty"`
	Cardinality          string   `json:"cardinality,omitempty"`
	Scope                string   `json:"scope,omitempty"`
	AppliesTo            string   `json:"applies_to,omitempty"`
	Consequence          string   `json:"consequence,omitempty"`
}

// BeneficialOwnershipAttributes describes a beneficial_ownership_threshold requirement.
type BeneficialOwnershipAttributes struct {
	CommonAttributes
	ThresholdValue     *float64 `json:"threshold_value,omitempty"`
	ThresholdUnit      string   `json:"threshold_unit,omitempty"`
	ThresholdDirection string   `json:"threshold_direction,omitempty"`
	AppliesTo          string   `json:"applies_to,omitempty"`
	Requirement        string   `json:"requirement,omitempty"`
	Consequence        string   `json:"consequence,omitempty"`
}

// DocumentationAttributes describes a documentation_requirement.
type DocumentationAttributes struct {
	CommonAttributes
	AppliesTo         string `json:"applies_to,omitempty"`
	Requirement       string `json:"requirement,omitempty"`
	DocumentType      string `json:"document_type,omitempty"`
	DocumentationType string `json:"documentation_type,omitempty"`
	RequiredBy        string `json:"required_by,omitempty"`
	AppliesWhen       string `json:"applies_when,omitempty"`
	RetentionPeriod   string `json:"retention_period,omitempty"`
	Consequence       string `json:"consequence,omitempty"`
}

// UpdateRequirementAttributes describes an update_requirement.
type UpdateRequirementAttributes struct {
	CommonAttributes
	AppliesWhen      string `json:"applies_when,omitempty"`
	Requirement      string `json:"requirement,omitempty"`
	AppliesTo        string `json:"applies_to,omitempty"`
	UpdateFrequency  string `json:"update_frequency,omitempty"`
	ResponsibleParty string `json:"responsible_party,omitempty"`
	Trigger          string `json:"trigger,omitempty"`
	Consequence      string `json:"consequence,omitempty"`
}

// UpdateTimelineAttributes describes an update_timeline requirement.
type UpdateTimelineAttributes struct {
	CommonAttributes
	AppliesTo          string   `json:"applies_to,omitempty"`
	ThresholdValue     *float64 `json:"threshold_value,omitempty"`
	ThresholdUnit      string   `json:"threshold_unit,omitempty"`
	ThresholdDirection string   `json:"threshold_direction,omitempty"`
	TimelineValue      *float64 `json:"timeline_value,omitempty"`
	TimelineUnit       string   `json:"timeline_unit,omitempty"`
	Value              *float64 `json:"value,omitempty"`
	Unit               string   `json:"unit,omitempty"`
	TriggerEvent       string   `json:"trigger_event,omitempty"`
	Trigger            string   `json:"trigger,omitempty"`
	AppliesWhen        string   `json:"applies_when,omitempty"`
	Consequence        string   `json:"consequence,omitempty"`
	Escalation         string   `json:"escalation,omitempty"`
}

// ControlRequirementAttributes describes a control_requirement.
type ControlRequirementAttributes struct {
	CommonAttributes
	ControlObjective string `json:"control_objective,omitempty"`
	Requirement      string `json:"requirement,omitempty"`
	AppliesTo        string `json:"applies_to,omitempty"`
	ResponsibleParty string `json:"responsible_party,omitempty"`
	Consequence      string `json:"consequence,omitempty"`
}

// RiskStatementAttributes describes a risk_statement.
type RiskStatementAttributes struct {
	CommonAttributes
	RiskAddressed string `json:"risk_addressed,omitempty"`
	Likelihood    string `json:"likelihood,omitempty"`
	AppliesTo     string `json:"applies_to,omitempty"`
	Consequence   string `json:"consequence,omitempty"`
}

func (*DataQualityAttributes) RuleType() RuleType         { return RuleDataQualityThreshold }
func (*OwnershipCategoryAttributes) RuleType() RuleType   { return RuleOwnershipCategory }
func (*BeneficialOwnershipAttributes) RuleType() RuleType { return RuleBeneficialOwnershipThreshold }
func (*DocumentationAttributes) RuleType() RuleType       { return RuleDocumentationRequirement }
func (*UpdateRequirementAttributes) RuleType() RuleType   { return RuleUpdateRequirement }
func (*UpdateTimelineAttributes) RuleType() RuleType      { return RuleUpdateTimeline }
func (*ControlRequirementAttributes) RuleType() RuleType  { return RuleControlRequirement }
func (*RiskStatementAttributes) RuleType() RuleType       { return RuleRiskStatement }

// NewAttributes returns the empty variant for rt, or nil for an unknown type.
func NewAttributes(rt RuleType) Attributes {
	switch rt {
	case RuleDataQualityThreshold:
		return &DataQualityAttributes{}
	case RuleOwnershipCategory:
		return &OwnershipCategoryAttributes{}
	case RuleBeneficialOwnershipThreshold:
		return &BeneficialOwnershipAttributes{}
	case RuleDocumentationRequirement:
		return &DocumentationAttributes{}
	case RuleUpdateRequirement:
		return &UpdateRequirementAttributes{}
	case RuleUpdateTimeline:
		return &UpdateTimelineAttributes{}
	case RuleControlRequirement:
		return &ControlRequirementAttributes{}
	case RuleRiskStatement:
		return &RiskStatementAttributes{}
	}
	return nil
}

// DecodeAttributes builds the variant for rt from an untyped JSON object.
// Values of the wrong JSON type land in Invalid; undeclared keys land in
// Extensions. Returns nil for an unknown rule type.
func DecodeAttributes(rt RuleType, raw map[string]any) Attributes {
	a := NewAttributes(rt)
	if a == nil {
		return nil
	}
	c := a.common()
	index := fieldIndex(a)
	for key, val := range raw {
		if val == nil {
			continue
		}
		fv, ok := index[key]
		if !ok {
			if c.Extensions == nil {
				c.Extensions = map[string]any{}
			}
			c.Extensions[key] = val
			continue
		}
		if err := assign(fv, val); err != nil {
			if c.Invalid == nil {
				c.Invalid = map[string]any{}
			}
			c.Invalid[key] = val
		}
	}
	return a
}

// AttributeFields returns a flat view of the present typed fields plus
// extensions. Wrong-typed values are excluded.
func AttributeFields(a Attributes) map[string]any {
	out := map[string]any{}
	if a == nil {
		return out
	}
	for key, fv := range fieldIndex(a) {
		if v, ok := present(fv); ok {
			out[key] = v
		}
	}
	for k, v := range a.common().Extensions {
		if _, taken := out[k]; !taken {
			out[k] = v
		}
	}
	return out
}

// AttributeValue returns a single value from the flat view.
func AttributeValue(a Attributes, name string) (any, bool) {
	if a == nil {
		return nil, false
	}
	if fv, ok := fieldIndex(a)[name]; ok {
		return present(fv)
	}
	v, ok := a.common().Extensions[name]
	return v, ok
}

// AttributeString returns the named value when it is a non-empty string.
func AttributeString(a Attributes, name string) string {
	v, _ := AttributeValue(a, name)
	s, _ := v.(string)
	return s
}

// AttributeNumber returns the named value when it is numeric.
func AttributeNumber(a Attributes, name string) (float64, bool) {
	v, ok := AttributeValue(a, name)
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

// HasAttribute reports whether name is present with a usable value.
func HasAttribute(a Attributes, name string) bool {
	_, ok := AttributeValue(a, name)
	return ok
}

// SetAttribute assigns a declared field by its JSON name.
func SetAttribute(a Attributes, name string, value any) error {
	if a == nil {
		return fmt.Errorf("nil attributes")
	}
	fv, ok := fieldIndex(a)[name]
	if !ok {
		return fmt.Errorf("%s has no attribute %q", a.RuleType(), name)
	}
	if err := assign(fv, value); err != nil {
		return fmt.Errorf("attribute %q: %w", name, err)
	}
	delete(a.common().Invalid, name)
	return nil
}

// Declares reports whether the variant has a typed field called name.
func Declares(a Attributes, name string) bool {
	if a == nil {
		return false
	}
	_, ok := fieldIndex(a)[name]
	return ok
}

// WrongTyped returns the keys whose supplied value had the wrong type.
func WrongTyped(a Attributes) map[string]any {
	if a == nil {
		return nil
	}
	return a.common().Invalid
}

// Common exposes the shared fields of a variant.
func Common(a Attributes) *CommonAttributes {
	if a == nil {
		return nil
	}
	return a.common()
}

// CloneAttributes returns a deep copy of a.
func CloneAttributes(a Attributes) Attributes {
	if a == nil {
		return nil
	}
	src := reflect.ValueOf(a).Elem()
	dst := reflect.New(src.Type())
	dst.Elem().Set(src)
	deepCopy(dst.Elem())
	return dst.Interface().(Attributes)
}

// OutputAttributes is the serialized view: the flat view plus wrong-typed
// values, minus keys with a leading underscore.
func OutputAttributes(a Attributes) map[string]any {
	out := AttributeFields(a)
	for k, v := range WrongTyped(a) {
		out[k] = v
	}
	for k := range out {
		if strings.HasPrefix(k, "_") {
			delete(out, k)
		}
	}
	return out
}

func fieldIndex(a Attributes) map[string]reflect.Value {
	index := map[string]reflect.Value{}
	collectFields(reflect.ValueOf(a).Elem(), index)
	return index
}

func collectFields(v reflect.Value, index map[string]reflect.Value) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.Anonymous {
			collectFields(v.Field(i), index)
			continue
		}
		name := strings.Split(sf.Tag.Get("json"), ",")[0]
		if name == "" || name == "-" {
			continue
		}
		index[name] = v.Field(i)
	}
}

func present(fv reflect.Value) (any, bool) {
	switch fv.Kind() {
	case reflect.String:
		if fv.String() == "" {
			return nil, false
		}
		return fv.String(), true
	case reflect.Pointer:
		if fv.IsNil() {
			return nil, false
		}
		return fv.Elem().Interface(), true
	case reflect.Slice:
		if fv.IsNil() {
			return nil, false
		}
		return fv.Interface(), true
	case reflect.Interface:
		if fv.IsNil() {
			return nil, false
		}
		return fv.Elem().Interface(), true
	}
	return nil, false
}

func assign(fv reflect.Value, val any) error {
	switch fv.Kind() {
	case reflect.String:
		s, ok := val.(string)
		if !ok {
			return fmt.Errorf("want string, got %T", val)
		}
		fv.SetString(s)
	case reflect.Pointer:
		f, ok := toFloat(val)
		if !ok {
			return fmt.Errorf("want number, got %T", val)
		}
		fv.Set(reflect.ValueOf(&f))
	case reflect.Slice:
		list, ok := toStrings(val)
		if !ok {
			return fmt.Errorf("want list of strings, got %T", val)
		}
		fv.Set(reflect.ValueOf(list))
	case reflect.Interface:
		fv.Set(reflect.ValueOf(val))
	default:
		return fmt.Errorf("unsupported field kind %s", fv.Kind())
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toStrings(v any) ([]string, bool) {
	switch l := v.(type) {
	case []string:
		return append([]string{}, l...), true
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

func deepCopy(v reflect.Value) {
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		switch f.Kind() {
		case reflect.Struct:
			deepCopy(f)
		case reflect.Pointer:
			if !f.IsNil() {
				n := reflect.New(f.Type().Elem())
				n.Elem().Set(f.Elem())
				f.Set(n)
			}
		case reflect.Slice:
			if !f.IsNil() {
				n := reflect.MakeSlice(f.Type(), f.Len(), f.Len())
				reflect.Copy(n, f)
				f.Set(n)
			}
		case reflect.Map:
			if !f.IsNil() {
				n := reflect.MakeMapWithSize(f.Type(), f.Len())
				iter := f.MapRange()
				for iter.Next() {
					n.SetMapIndex(iter.Key(), iter.Value())
				}
				f.Set(n)
			}
		}
	}
}
