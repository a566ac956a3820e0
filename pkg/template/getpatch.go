package template

import (
	"github.com/expr-lang/expr/ast"
)

// getCallPatcher rewrites dict-style member calls data.get(key) and
// data.get(key, default) into mapGet(data, key[, default]) at compile
// time. Without the rewrite expr would look up a "get" entry in the map
// itself and fail.
type getCallPatcher struct{}

func (getCallPatcher) Visit(node *ast.Node) {
	call, ok := (*node).(*ast.CallNode)
	if !ok {
		return
	}
	member, ok := call.Callee.(*ast.MemberNode)
	if !ok {
		return
	}
	prop, ok := member.Property.(*ast.StringNode)
	if !ok || prop.Value != "get" {
		return
	}
	if len(call.Arguments) < 1 || len(call.Arguments) > 2 {
		return
	}
	args := append([]ast.Node{member.Node}, call.Arguments...)
	ast.Patch(node, &ast.CallNode{
		Callee:    &ast.IdentifierNode{Value: "mapGet"},
		Arguments: args,
	})
}

// notPatcher rewrites "not x" (and "!x") into falsy(x) so negation
// applies the template truthiness rule instead of expr's strict bool
// negation. An undefined operand negates to true; without the rewrite
// "not nil" is an evaluation error.
type notPatcher struct{}

func (notPatcher) Visit(node *ast.Node) {
	unary, ok := (*node).(*ast.UnaryNode)
	if !ok || (unary.Operator != "not" && unary.Operator != "!") {
		return
	}
	ast.Patch(node, &ast.CallNode{
		Callee:    &ast.IdentifierNode{Value: "falsy"},
		Arguments: []ast.Node{unary.Node},
	})
}
