package util

import "sort"

// StringSet keeps the insertion order so that diagnostics are stable.
type StringSet struct {
	internal map[string]int
	order    []string
}

func NewStringSet() *StringSet {
	return &StringSet{internal: make(map[string]int)}
}

func (set *StringSet) Add(str string) {
	if _, ok := set.internal[str]; ok {
		return
	}
	set.internal[str] = len(set.order)
	set.order = append(set.order, str)
}

func (set *StringSet) AddAll(itemSlice []string) {
	for _, item := range itemSlice {
		set.Add(item)
	}
}

func (set *StringSet) Has(str string) bool {
	_, ok := set.internal[str]
	return ok
}

// ToArray returns the items in insertion order.
func (set *StringSet) ToArray() []string {
	res := make([]string, len(set.order))
	copy(res, set.order)
	return res
}

// Sorted returns the items in lexical order.
func (set *StringSet) Sorted() []string {
	res := set.ToArray()
	sort.Strings(res)
	return res
}

func (set *StringSet) Size() int {
	return len(set.order)
}
