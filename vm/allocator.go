package vm

// Allocator creates and releases instances. Instances must come back zeroed
// with their class pointer set.
type Allocator interface {
	AllocateInstance(c *Class, extraBytes int) *Object
	Dispose(o *Object)
}

// DefaultAllocator allocates on the Go heap.
type DefaultAllocator struct{}

func (DefaultAllocator) AllocateInstance(c *Class, extraBytes int) *Object {
	o := &Object{Ivars: make([]any, c.InstanceSize())}
	if extraBytes > 0 {
		o.Extra = make([]byte, extraBytes)
	}
	o.isa.Store(c)
	return o
}

// Dispose clears the object's class so later sends go to the nil slot.
func (DefaultAllocator) Dispose(o *Object) {
	o.isa.Store(nil)
	clear(o.Ivars)
}

// CreateInstance allocates an instance of c through the configured
// allocator. It does not initialize the class.
func (vm *VM) CreateInstance(c *Class, extraBytes int) *Object {
	return vm.allocator.AllocateInstance(c, extraBytes)
}

// DisposeInstance hands o back to the allocator.
func (vm *VM) DisposeInstance(o *Object) {
	vm.allocator.Dispose(o)
}
