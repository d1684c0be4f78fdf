package pool

import (
	"encoding/gob"
	"fmt"
	"sync"
)

// Func is one named unit of work a worker subprocess can execute. Register
// it once — typically from an init func, so the registration runs in both
// the submitting process and the self-re-exec'd worker process before
// either does anything else — and refer to it by name in Apply/Map calls.
//
// Because the argument and return value cross a process boundary via gob,
// any concrete type passed as arg or returned as result must itself be
// gob-encodable, and if it's held behind an interface, registered with
// encoding/gob.Register.
type Func func(arg any) (any, error)

var (
	funcsMu sync.RWMutex
	funcs   = map[string]Func{}

	initsMu sync.RWMutex
	inits   = map[string]func(arg any){}
)

// Register associates name with fn. Registering the same name twice
// panics: it almost always indicates two packages picked the same name by
// accident, which is a build-time mistake worth failing loudly on.
func Register(name string, fn Func) {
	funcsMu.Lock()
	defer funcsMu.Unlock()
	if _, exists := funcs[name]; exists {
		panic(fmt.Sprintf("pool: Func %q already registered", name))
	}
	funcs[name] = fn
}

// Lookup resolves a registered Func by name.
func Lookup(name string) (Func, bool) {
	funcsMu.RLock()
	defer funcsMu.RUnlock()
	fn, ok := funcs[name]
	return fn, ok
}

// RegisterInitializer associates name with an initializer, run once at the
// start of a worker subprocess's life with the given initargs value
// (spec.md section 6 "initializer"/"initargs").
func RegisterInitializer(name string, fn func(arg any)) {
	initsMu.Lock()
	defer initsMu.Unlock()
	if _, exists := inits[name]; exists {
		panic(fmt.Sprintf("pool: initializer %q already registered", name))
	}
	inits[name] = fn
}

// LookupInitializer resolves a registered initializer by name.
func LookupInitializer(name string) (func(arg any), bool) {
	initsMu.RLock()
	defer initsMu.RUnlock()
	fn, ok := inits[name]
	return fn, ok
}

// RegisterGob is a convenience wrapper over encoding/gob.Register for
// concrete argument/result types carried behind the any in Func.
func RegisterGob(value any) {
	gob.Register(value)
}
