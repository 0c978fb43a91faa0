// Package xhash implements the Pearson-permutation bucketed hash table
// used throughout the runtime for symbol lookup and the interpreter's
// instanceof cache.
package xhash

// perm is Peter K. Pearson's permutation table (CACM 33-6, pp 677), taken
// byte-for-byte from the reference implementation so that bucket
// placement matches it exactly.
var perm = [256]byte{
	0001, 0127, 0061, 0014, 0260, 0262, 0146, 0246,
	0171, 0301, 0006, 0124, 0371, 0346, 0054, 0243,
	0016, 0305, 0325, 0265, 0241, 0125, 0332, 0120,
	0100, 0357, 0030, 0342, 0354, 0216, 0046, 0310,
	0156, 0261, 0150, 0147, 0215, 0375, 0377, 0062,
	0115, 0145, 0121, 0022, 0055, 0140, 0037, 0336,
	0031, 0153, 0276, 0106, 0126, 0355, 0360, 0042,
	0110, 0362, 0024, 0326, 0364, 0343, 0225, 0353,
	0141, 0352, 0071, 0026, 0074, 0372, 0122, 0257,
	0320, 0005, 0177, 0307, 0157, 0076, 0207, 0370,
	0256, 0251, 0323, 0072, 0102, 0232, 0152, 0303,
	0365, 0253, 0021, 0273, 0266, 0263, 0000, 0363,
	0204, 0070, 0224, 0113, 0200, 0205, 0236, 0144,
	0202, 0176, 0133, 0015, 0231, 0366, 0330, 0333,
	0167, 0104, 0337, 0116, 0123, 0130, 0311, 0143,
	0172, 0013, 0134, 0040, 0210, 0162, 0064, 0012,
	0212, 0036, 0060, 0267, 0234, 0043, 0075, 0032,
	0217, 0112, 0373, 0136, 0201, 0242, 0077, 0230,
	0252, 0007, 0163, 0247, 0361, 0316, 0003, 0226,
	0067, 0073, 0227, 0334, 0132, 0065, 0027, 0203,
	0175, 0255, 0017, 0356, 0117, 0137, 0131, 0020,
	0151, 0211, 0341, 0340, 0331, 0240, 0045, 0173,
	0166, 0111, 0002, 0235, 0056, 0164, 0011, 0221,
	0206, 0344, 0317, 0324, 0312, 0327, 0105, 0345,
	0033, 0274, 0103, 0174, 0250, 0374, 0052, 0004,
	0035, 0154, 0025, 0367, 0023, 0315, 0047, 0313,
	0351, 0050, 0272, 0223, 0306, 0300, 0233, 0041,
	0244, 0277, 0142, 0314, 0245, 0264, 0165, 0114,
	0214, 0044, 0322, 0254, 0051, 0066, 0237, 0010,
	0271, 0350, 0161, 0304, 0347, 0057, 0222, 0170,
	0063, 0101, 0034, 0220, 0376, 0335, 0135, 0275,
	0302, 0213, 0160, 0053, 0107, 0155, 0270, 0321,
}

// HashBytes hashes b, considering at most maxlen bytes, per Pearson's
// two-pass scheme (CACM 33-6, pp 677).
func HashBytes(b []byte, maxlen int) uint16 {
	var h, l byte
	n := len(b)
	if maxlen >= 0 && maxlen < n {
		n = maxlen
	}
	for i := 0; i < n; i++ {
		h = l
		l = perm[l^b[i]]
	}
	return uint16(h)<<8 | uint16(l)
}

// HashString hashes a NUL-terminated-style string, stopping at the first
// NUL byte or after maxlen bytes, whichever comes first — matching the
// original hashstr() semantics for C strings.
func HashString(s string, maxlen int) uint16 {
	var h, l byte
	n := len(s)
	if maxlen >= 0 && maxlen < n {
		n = maxlen
	}
	for i := 0; i < n; i++ {
		if s[i] == 0 {
			break
		}
		h = l
		l = perm[l^s[i]]
	}
	return uint16(h)<<8 | uint16(l)
}

// Entry is a single chained bucket slot. Key identifies the entry;
// Value is opaque payload owned by the caller (symbol record, funcdef
// pointer, cached instanceof result, ...).
type Entry struct {
	Key   string
	Value any
	next  *Entry
}

// Table is a fixed-size chained hash table keyed by string, with an
// optional move-to-front policy on lookup.
type Table struct {
	buckets []*Entry
	maxlen  int
	move    bool
	count   int
}

// New creates a table with the given bucket count and maximum
// significant key length (-1 for unbounded), and whether successful
// lookups should splice their entry to the front of its bucket.
func New(size int, maxlen int, moveToFront bool) *Table {
	if size <= 0 {
		size = 1
	}
	return &Table{
		buckets: make([]*Entry, size),
		maxlen:  maxlen,
		move:    moveToFront,
	}
}

func (t *Table) bucket(key string) int {
	return int(HashString(key, t.maxlen)) % len(t.buckets)
}

// Lookup returns the entry for key, or nil if absent. When the table was
// constructed with moveToFront, a found entry is spliced to the head of
// its bucket chain, matching HashtabImpl::lookup's "move" behavior.
func (t *Table) Lookup(key string) *Entry {
	idx := t.bucket(key)
	var prev *Entry
	for e := t.buckets[idx]; e != nil; e = e.next {
		if e.Key == key {
			if t.move && prev != nil {
				prev.next = e.next
				e.next = t.buckets[idx]
				t.buckets[idx] = e
			}
			return e
		}
		prev = e
	}
	return nil
}

// Insert adds key/value, returning the new entry. It does not check for
// an existing entry with the same key; callers that need replace
// semantics should Lookup first.
func (t *Table) Insert(key string, value any) *Entry {
	idx := t.bucket(key)
	e := &Entry{Key: key, Value: value, next: t.buckets[idx]}
	t.buckets[idx] = e
	t.count++
	return e
}

// Delete removes the first entry matching key, if any.
func (t *Table) Delete(key string) bool {
	idx := t.bucket(key)
	var prev *Entry
	for e := t.buckets[idx]; e != nil; e = e.next {
		if e.Key == key {
			if prev == nil {
				t.buckets[idx] = e.next
			} else {
				prev.next = e.next
			}
			t.count--
			return true
		}
		prev = e
	}
	return false
}

// Len returns the number of entries currently stored.
func (t *Table) Len() int {
	return t.count
}
