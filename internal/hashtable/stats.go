package hashtable

type Stats struct {
	Hasher       string  `json:"hasher"`
	Capacity     int     `json:"capacity"`
	Entries      int     `json:"entries"`
	UsedBuckets  int     `json:"used_buckets"`
	LongestChain int     `json:"longest_chain"`
	LoadFactor   float64 `json:"load_factor"`
}

func (t *Table) Stats() Stats {
	st := Stats{
		Hasher:   t.hasher,
		Capacity: t.capacity,
		Entries:  t.count,
	}
	for _, head := range t.buckets {
		n := 0
		for e := head; e != nil; e = e.next {
			n++
		}
		if n > 0 {
			st.UsedBuckets++
		}
		if n > st.LongestChain {
			st.LongestChain = n
		}
	}
	if t.capacity > 0 {
		st.LoadFactor = float64(t.count) / float64(t.capacity)
	}
	return st
}
