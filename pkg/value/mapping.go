package value

// mapKey reduces a Value to something comparable for the mapping's
// lookup index. Only Nil, Int, Float, and String values are valid
// mapping keys; any other kind panics here, and the interpreter does not
// check key kinds before reaching here.
func mapKey(v Value) any {
	switch v.kind {
	case KindNil:
		return nil
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return string(v.s.Bytes)
	default:
		panic("value: unhashable mapping key kind " + v.kind.String())
	}
}

// Get returns the value stored under key and whether it was present.
func (m *MappingHandle) Get(key Value) (Value, bool) {
	if idx, ok := m.index[mapKey(key)]; ok {
		return m.vals[idx], true
	}
	return Nil, false
}

// Set stores value under key, appending a new entry if key is absent so
// that enumeration order matches insertion order.
func (m *MappingHandle) Set(key, val Value) {
	k := mapKey(key)
	if idx, ok := m.index[k]; ok {
		m.vals[idx] = val
		return
	}
	m.index[k] = len(m.keys)
	m.keys = append(m.keys, key)
	m.vals = append(m.vals, val)
}

// Delete removes key, if present, preserving the relative order of the
// remaining entries.
func (m *MappingHandle) Delete(key Value) {
	k := mapKey(key)
	idx, ok := m.index[k]
	if !ok {
		return
	}
	m.keys = append(m.keys[:idx], m.keys[idx+1:]...)
	m.vals = append(m.vals[:idx], m.vals[idx+1:]...)
	delete(m.index, k)
	for key2, i := range m.index {
		if i > idx {
			m.index[key2] = i - 1
		}
	}
}

// Len returns the number of entries in the mapping.
func (m *MappingHandle) Len() int {
	return len(m.keys)
}

// Each calls fn for every entry, in insertion order.
func (m *MappingHandle) Each(fn func(key, val Value)) {
	for i, k := range m.keys {
		fn(k, m.vals[i])
	}
}
