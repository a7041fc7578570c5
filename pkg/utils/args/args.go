package args

import (
	"fmt"
	"strconv"
)

// Adapter is a flag.Value for flags which are meaningful only when given.
//
// It remembers whether Set has been called, so "--fast 0" and an absent
// "--fast" can be told apart.
type Adapter[T any] struct {
	value  T
	isSet  bool
	parser func(string) (T, error)
}

func (a *Adapter[T]) String() string {
	if a == nil || !a.isSet {
		return ""
	}
	return fmt.Sprint(a.value)
}

func (a *Adapter[T]) Set(s string) error {
	v, err := a.parser(s)
	if err != nil {
		return err
	}
	a.value = v
	a.isSet = true
	return nil
}

// Value returns the parsed value and whether the flag was given.
func (a *Adapter[T]) Value() (T, bool) {
	if a == nil {
		return *new(T), false
	}
	return a.value, a.isSet
}

func (a *Adapter[T]) IsSet() bool {
	return a != nil && a.isSet
}

func Parser[T any](parser func(string) (T, error)) *Adapter[T] {
	return &Adapter[T]{parser: parser}
}

// OptionalInt is an Adapter for decimal integers.
func OptionalInt() *Adapter[int] {
	return Parser(strconv.Atoi)
}

// OptionalIntOr is OptionalInt which is already set to def.
func OptionalIntOr(def int) *Adapter[int] {
	a := OptionalInt()
	a.value = def
	a.isSet = true
	return a
}

// OptionalInt64 is an Adapter for decimal 64-bit integers.
func OptionalInt64() *Adapter[int64] {
	return Parser(func(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) })
}
