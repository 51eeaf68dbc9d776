package resolver

// workingSet is an insertion-ordered map of candidates still to be loaded.
// Replacing a key keeps its original position.
type workingSet struct {
	order []string
	items map[string]*Candidate
}

func newWorkingSet() *workingSet {
	return &workingSet{items: make(map[string]*Candidate)}
}

func (w *workingSet) put(key string, c *Candidate) {
	if _, ok := w.items[key]; !ok {
		w.order = append(w.order, key)
	}
	w.items[key] = c
}

func (w *workingSet) get(key string) (*Candidate, bool) {
	c, ok := w.items[key]
	return c, ok
}

func (w *workingSet) has(key string) bool {
	_, ok := w.items[key]
	return ok
}

func (w *workingSet) remove(key string) {
	delete(w.items, key)
}

func (w *workingSet) len() int {
	return len(w.items)
}

// keys returns a snapshot of the live keys in insertion order
func (w *workingSet) keys() []string {
	live := w.order[:0:0]
	for _, key := range w.order {
		if _, ok := w.items[key]; ok {
			live = append(live, key)
		}
	}
	w.order = live
	return append([]string(nil), live...)
}

func (w *workingSet) clear() {
	w.order = nil
	clear(w.items)
}
