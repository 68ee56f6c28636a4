package plan

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/graphcore/engine/internal/exec"
)

// Explain renders res's operator tree as an indented outline, the
// debug surface a caller uses to see what a query actually compiled to
// without instrumenting the executor itself. It walks each operator's
// Child/Outer/Children field by reflection rather than requiring
// every operator type to implement a Stringer, since most of them
// already carry a plain struct-literal shape.
func Explain(res *Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "columns: %v (write=%v)\n", res.Columns, res.Write)
	explainOp(&b, res.Root, 0)
	return b.String()
}

func explainOp(b *strings.Builder, op exec.Operator, depth int) {
	if op == nil {
		return
	}
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString(operatorName(op))
	b.WriteString("\n")

	v := reflect.ValueOf(op)
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return
	}
	for _, field := range []string{"Child", "Outer"} {
		if f := v.FieldByName(field); f.IsValid() && !f.IsNil() {
			if child, ok := f.Interface().(exec.Operator); ok {
				explainOp(b, child, depth+1)
			}
		}
	}
	if f := v.FieldByName("Children"); f.IsValid() && f.Kind() == reflect.Slice {
		for i := 0; i < f.Len(); i++ {
			if child, ok := f.Index(i).Interface().(exec.Operator); ok {
				explainOp(b, child, depth+1)
			}
		}
	}
}

func operatorName(op exec.Operator) string {
	t := reflect.TypeOf(op)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
