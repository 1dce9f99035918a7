// Package filter resolves user-supplied collection filters and comparators
// into predicates and ordering functions.
//
// A filter input is one of:
//   - *regexp.Regexp: matched against the candidate name
//   - Predicate or func(string) bool: used as is
//   - Ref, or a string ending in ModuleExt: looked up in a Registry
//   - any other string: compiled as a regular expression
//
// Anything else, including funcs of the wrong arity, is a configuration error.
package filter

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"migrator/internal/domain/apperr"
)

// ModuleExt marks a string filter as a registry reference rather than a pattern.
const ModuleExt = ".plugin"

// Predicate decides whether a collection or sub-collection name is kept.
type Predicate func(name string) bool

// Comparator orders two collection names: negative, zero or positive.
type Comparator func(a, b string) int

// Ref names an entry of a Registry.
type Ref string

// refName reports whether input is a registry reference and returns the name.
func refName(input any) (string, bool) {
	switch v := input.(type) {
	case Ref:
		return string(v), true
	case string:
		if strings.HasSuffix(v, ModuleExt) {
			return strings.TrimSuffix(v, ModuleExt), true
		}
	}
	return "", false
}

// ResolvePredicate turns a filter input into a Predicate. setting names the
// configuration slot and only appears in errors.
func ResolvePredicate(setting string, input any, reg *Registry) (Predicate, error) {
	if name, ok := refName(input); ok {
		value, err := reg.lookup(setting, name)
		if err != nil {
			return nil, err
		}
		pred, ok := asPredicate(value)
		if !ok {
			return nil, apperr.NewConfigurationError(setting, fmt.Sprintf("module %q does not export a predicate", name))
		}
		return pred, nil
	}

	switch v := input.(type) {
	case *regexp.Regexp:
		if v == nil {
			break
		}
		return v.MatchString, nil
	case string:
		re, err := regexp.Compile(v)
		if err != nil {
			return nil, apperr.NewConfigurationError(setting, fmt.Sprintf("invalid pattern %q: %v", v, err))
		}
		return re.MatchString, nil
	}

	if pred, ok := asPredicate(input); ok {
		return pred, nil
	}
	if arity, ok := funcArity(input); ok && arity != 1 {
		return nil, apperr.NewConfigurationError(setting, "predicate must take exactly one argument")
	}
	return nil, apperr.NewConfigurationError(setting, "filter must be a pattern, predicate, or module reference")
}

// ResolveComparator turns a comparator input into a Comparator.
func ResolveComparator(setting string, input any, reg *Registry) (Comparator, error) {
	if name, ok := refName(input); ok {
		value, err := reg.lookup(setting, name)
		if err != nil {
			return nil, err
		}
		cmp, ok := asComparator(value)
		if !ok {
			return nil, apperr.NewConfigurationError(setting, fmt.Sprintf("module %q does not export a comparator", name))
		}
		return cmp, nil
	}

	if cmp, ok := asComparator(input); ok {
		return cmp, nil
	}
	if arity, ok := funcArity(input); ok && arity != 2 {
		return nil, apperr.NewConfigurationError(setting, "comparator must take exactly two arguments")
	}
	return nil, apperr.NewConfigurationError(setting, "comparator must be an ordering function or module reference")
}

func asPredicate(v any) (Predicate, bool) {
	switch fn := v.(type) {
	case Predicate:
		return fn, fn != nil
	case func(string) bool:
		return fn, fn != nil
	}
	return nil, false
}

func asComparator(v any) (Comparator, bool) {
	switch fn := v.(type) {
	case Comparator:
		return fn, fn != nil
	case func(string, string) int:
		return fn, fn != nil
	}
	return nil, false
}

// funcArity reports the declared parameter count of a func value.
func funcArity(v any) (int, bool) {
	if v == nil {
		return 0, false
	}
	t := reflect.TypeOf(v)
	if t.Kind() != reflect.Func {
		return 0, false
	}
	return t.NumIn(), true
}
