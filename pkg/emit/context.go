package emit

// ComponentRef identifies a component's backing type in the host package.
type ComponentRef struct {
	// TypeName is the Go struct the component's template renders against.
	TypeName string
	// ArgsTypeName is the struct declaring the component's @-arguments.
	// Empty when the component declares none.
	ArgsTypeName string
}

// HelperRef identifies a helper's backing function in the host package.
type HelperRef struct {
	FuncName string
}

// Resolver answers "what backs this component or helper reference". The
// surrounding type-resolution layer supplies one per host package; emission
// degrades to any-typed placeholders for names it cannot resolve.
type Resolver interface {
	ResolveComponent(name string) (ComponentRef, bool)
	ResolveHelper(name string) (HelperRef, bool)
}

// HostContext is everything the emitter needs to know about the document's
// surroundings.
type HostContext struct {
	// PackageName is the Go package the fragment is emitted into.
	// Defaults to "templates" for template-only documents.
	PackageName string

	// Component is the struct backing this template, nil for template-only
	// documents.
	Component *ComponentRef

	// Resolver resolves component tags and helper names, may be nil.
	Resolver Resolver

	// AmbientThis names a declared type for `this` in template-only
	// documents. When empty, the emitter synthesizes an open struct from
	// the member names the template actually uses.
	AmbientThis string
}

func (h HostContext) packageName() string {
	if h.PackageName != "" {
		return h.PackageName
	}
	return "templates"
}

func (h HostContext) resolveComponent(name string) (ComponentRef, bool) {
	if h.Resolver == nil {
		return ComponentRef{}, false
	}
	return h.Resolver.ResolveComponent(name)
}

func (h HostContext) resolveHelper(name string) (HelperRef, bool) {
	if h.Resolver == nil {
		return HelperRef{}, false
	}
	return h.Resolver.ResolveHelper(name)
}
