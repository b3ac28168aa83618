package engine

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/xela07ax/spaceai-action-pipeline/internal/domain"
)

// validateParameters возвращает список всех проблем, а не первую.
// null в параметре считается отсутствием значения.
func validateParameters(specs []domain.ParameterSpec, params map[string]any) []string {
	var problems []string
	for _, spec := range specs {
		v, present := params[spec.Name]
		if !present || v == nil {
			if spec.Required {
				problems = append(problems, fmt.Sprintf("missing required parameter '%s'", spec.Name))
			}
			continue
		}
		if !matchesType(spec.Type, v) {
			problems = append(problems, fmt.Sprintf("parameter '%s' must be of type %s, got %s", spec.Name, spec.Type, describeType(v)))
		}
	}
	return problems
}

// matchesType проверяет форму значения. Массив определяется структурно:
// любой срез или массив, независимо от типа элементов.
func matchesType(t domain.ParamType, v any) bool {
	if _, ok := v.(json.Number); ok {
		return t == domain.ParamNumber
	}
	k := reflect.TypeOf(v).Kind()
	switch t {
	case domain.ParamString:
		return k == reflect.String
	case domain.ParamNumber:
		switch k {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64:
			return true
		}
		return false
	case domain.ParamBoolean:
		return k == reflect.Bool
	case domain.ParamArray:
		return k == reflect.Slice || k == reflect.Array
	case domain.ParamObject:
		return k == reflect.Map && reflect.TypeOf(v).Key().Kind() == reflect.String
	}
	// Неизвестный объявленный тип не ограничивает значение
	return true
}

func describeType(v any) string {
	for _, t := range []domain.ParamType{domain.ParamString, domain.ParamNumber, domain.ParamBoolean, domain.ParamArray, domain.ParamObject} {
		if matchesType(t, v) {
			return string(t)
		}
	}
	return reflect.TypeOf(v).String()
}
