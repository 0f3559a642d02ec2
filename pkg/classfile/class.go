// Package classfile models decoded classes and methods and the
// collaborator interfaces that supply and persist them.
package classfile

import (
	"github.com/fortiblox/X1-Patcher/pkg/bytecode"
)

// Class is one decoded class.
type Class struct {
	Name       string // internal name, e.g. "com/example/Main"
	Super      string
	Interfaces []string
	Access     AccessFlags
	Methods    []*Method
}

// Method is one decoded method. Code is nil for abstract and native
// methods.
type Method struct {
	Owner      *Class
	Name       string
	Descriptor string
	Access     AccessFlags
	MaxStack   uint16
	MaxLocals  uint16
	Code       *bytecode.List
}

// NewClass creates a class and sets the owner of every method.
func NewClass(name, super string, access AccessFlags, methods ...*Method) *Class {
	c := &Class{Name: name, Super: super, Access: access}
	for _, m := range methods {
		c.AddMethod(m)
	}
	return c
}

// AddMethod appends m and makes c its owner.
func (c *Class) AddMethod(m *Method) {
	m.Owner = c
	c.Methods = append(c.Methods, m)
}

// Method returns the method with the given name and descriptor.
func (c *Class) Method(name, desc string) *Method {
	for _, m := range c.Methods {
		if m.Name == name && m.Descriptor == desc {
			return m
		}
	}
	return nil
}

// ID returns owner.name+descriptor.
func (m *Method) ID() string {
	owner := "?"
	if m.Owner != nil {
		owner = m.Owner.Name
	}
	return owner + "." + m.Name + m.Descriptor
}

// Shape parses the descriptor into return and parameter types.
func (m *Method) Shape() (Type, []Type, error) {
	return ParseMethodDescriptor(m.Descriptor)
}

// ReturnType returns the declared return type, or Void for a malformed
// descriptor.
func (m *Method) ReturnType() Type {
	ret, _, err := m.Shape()
	if err != nil {
		return Void
	}
	return ret
}

// ParamTypes returns the declared parameter types.
func (m *Method) ParamTypes() []Type {
	_, params, _ := m.Shape()
	return params
}

// HasCode reports whether the method has an instruction list.
func (m *Method) HasCode() bool {
	return m.Code != nil
}

func (m *Method) String() string {
	return m.Access.String() + " " + m.ID()
}

// ClassProvider supplies decoded classes. The order of Classes, and of
// each class's methods, must be stable: resolution is first-match-wins.
type ClassProvider interface {
	Classes() []*Class
}

// ContainerWriter serializes classes back into a container.
type ContainerWriter interface {
	WriteClasses(classes []*Class) error
}

// StaticProvider is a ClassProvider over a fixed slice.
type StaticProvider []*Class

// Classes implements ClassProvider.
func (p StaticProvider) Classes() []*Class {
	return p
}

// Methods returns every method of every class in provider order.
func Methods(p ClassProvider) []*Method {
	var out []*Method
	for _, c := range p.Classes() {
		out = append(out, c.Methods...)
	}
	return out
}
