package provider

import (
	"context"
	"fmt"
	"reflect"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// bindMethod looks up an exported method by name on instance.
func bindMethod(instance any, name string) (reflect.Value, error) {
	if instance == nil {
		return reflect.Value{}, fmt.Errorf("%w: %q on nil instance", ErrBuilderNotFound, name)
	}
	method := reflect.ValueOf(instance).MethodByName(name)
	if !method.IsValid() {
		return reflect.Value{}, fmt.Errorf("%w: %T has no method %q", ErrBuilderNotFound, instance, name)
	}

	mt := method.Type()
	switch mt.NumOut() {
	case 0, 1:
	case 2:
		if mt.Out(1) != errorType {
			return reflect.Value{}, fmt.Errorf("%w: %q must return (handle, error)", ErrBuilderSignature, name)
		}
	default:
		return reflect.Value{}, fmt.Errorf("%w: %q returns too many values", ErrBuilderSignature, name)
	}
	return method, nil
}

// callBuilder calls method with args, prepending ctx when the method's first
// parameter is a context.Context. Trailing parameters without an argument
// receive their zero value.
func callBuilder(ctx context.Context, method reflect.Value, args []any) (any, error) {
	mt := method.Type()
	in := make([]reflect.Value, 0, len(args)+1)

	offset := 0
	if mt.NumIn() > 0 && mt.In(0) == contextType {
		in = append(in, reflect.ValueOf(ctx))
		offset = 1
	}

	for i, arg := range args {
		pt := paramType(mt, offset+i)
		if pt == nil {
			return nil, fmt.Errorf("%w: %d arguments for %s", ErrBuilderSignature, len(args), mt)
		}
		v, err := convertArg(arg, pt)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		in = append(in, v)
	}

	required := mt.NumIn()
	if mt.IsVariadic() {
		required--
	}
	for len(in) < required {
		in = append(in, reflect.Zero(mt.In(len(in))))
	}

	out := method.Call(in)
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if mt.Out(0) == errorType {
			return nil, asError(out[0])
		}
		return out[0].Interface(), nil
	default:
		return out[0].Interface(), asError(out[1])
	}
}

func paramType(mt reflect.Type, i int) reflect.Type {
	n := mt.NumIn()
	if mt.IsVariadic() && i >= n-1 {
		return mt.In(n - 1).Elem()
	}
	if i < n {
		return mt.In(i)
	}
	return nil
}

func convertArg(arg any, pt reflect.Type) (reflect.Value, error) {
	if arg == nil {
		return reflect.Zero(pt), nil
	}
	v := reflect.ValueOf(arg)
	if v.Type().AssignableTo(pt) {
		return v, nil
	}
	if v.Kind() == pt.Kind() && v.Type().ConvertibleTo(pt) {
		return v.Convert(pt), nil
	}
	return reflect.Value{}, fmt.Errorf("%w: %T is not assignable to %s", ErrBuilderSignature, arg, pt)
}

func asError(v reflect.Value) error {
	if v.IsNil() {
		return nil
	}
	return v.Interface().(error)
}
