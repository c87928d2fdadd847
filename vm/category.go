package vm

import "slices"

// ---------------------------------------------------------------------------
// Category: methods attached to an existing class
// ---------------------------------------------------------------------------

// Category is a named bundle of methods and protocols added to a class
// after the fact. Its method lists are placed in front of the class's
// existing lists, so its methods take precedence over the class's own.
// When two categories define the same selector the winner is whichever
// was attached most recently; callers should not rely on that.
type Category struct {
	Name            string
	ClassName       string
	InstanceMethods []*Method
	ClassMethods    []*Method
	Protocols       []string
}

// TryLoadCategory attaches cat to its class. If the class is not loaded
// yet the category is buffered and attached when it arrives; the result
// reports whether it was attached now.
func (vm *VM) TryLoadCategory(cat *Category) bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	c := vm.Classes.Lookup(cat.ClassName)
	if c == nil {
		vm.pendingCategories[cat.ClassName] = append(vm.pendingCategories[cat.ClassName], cat)
		log.Debugf("buffered category %s(%s)", cat.ClassName, cat.Name)
		return false
	}
	vm.applyCategoryLocked(c, cat)
	return true
}

// PendingCategories returns the number of categories waiting for their class.
func (vm *VM) PendingCategories() int {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	n := 0
	for _, cats := range vm.pendingCategories {
		n += len(cats)
	}
	return n
}

func (vm *VM) applyCategoryLocked(c *Class, cat *Category) {
	meta := c.Meta()
	if len(cat.InstanceMethods) > 0 {
		vm.prependListLocked(c, cat.InstanceMethods, cat.Name)
	}
	if len(cat.ClassMethods) > 0 {
		vm.prependListLocked(meta, cat.ClassMethods, cat.Name)
	}
	for _, p := range cat.Protocols {
		if !slices.Contains(c.protocols, p) {
			c.protocols = append(c.protocols, p)
		}
	}
	vm.updateLocked(c)
	vm.updateLocked(meta)
	log.Debugf("attached category %s(%s)", c.Name, cat.Name)
}

// prependListLocked makes methods c's newest method list.
func (vm *VM) prependListLocked(c *Class, methods []*Method, category string) *MethodList {
	l := c.ownList(methods)
	l.Category = category
	l.next = c.methods
	c.methods = l
	return l
}

// Categories returns the names of the categories attached to c, newest
// first.
func (vm *VM) Categories(c *Class) []string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	var names []string
	seen := map[string]bool{}
	for _, cls := range []*Class{c, c.Meta()} {
		if cls == nil {
			continue
		}
		for l := cls.methods; l != nil; l = l.next {
			if l.Category != "" && !seen[l.Category] {
				seen[l.Category] = true
				names = append(names, l.Category)
			}
		}
	}
	return names
}

// ---------------------------------------------------------------------------
// +load
// ---------------------------------------------------------------------------

// SendLoad calls the class-side "load" method of every method list of c
// that defines one and has not been sent yet: the class's own list and
// each category's. The implementations are called directly, without
// initializing the class. It returns the number of calls made.
func (vm *VM) SendLoad(c *Class) int {
	keys := vm.wellKnownKeys(loadName)
	if len(keys) == 0 || !c.IsResolved() {
		return 0
	}

	type loadCall struct {
		imp IMP
		sel Selector
	}
	vm.mu.Lock()
	var calls []loadCall
	for l := c.Meta().methods; l != nil; l = l.next {
		if l.loadSent {
			continue
		}
		for _, m := range l.Methods {
			if slices.Contains(keys, vm.Selectors.DispatchKey(m.Selector)) {
				l.loadSent = true
				calls = append(calls, loadCall{m.Imp, m.Selector})
				break
			}
		}
	}
	vm.mu.Unlock()

	// Oldest list first, so a class sees +load before its categories.
	for i := len(calls) - 1; i >= 0; i-- {
		calls[i].imp(c, calls[i].sel)
	}
	return len(calls)
}
