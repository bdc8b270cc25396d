// button/bindings.go
package button

// bindingTable maps (event, menu level) to an action. A nil cell means
// "nothing bound", which resolves to a no-op at dispatch time.
//
// The table is allocated lazily on the first set so buttons that never
// bind anything stay allocation-free. It never shrinks; unbind just
// clears the cell.
type bindingTable struct {
	rows [][]Action // [numEvents][menuCount]
}

func (t *bindingTable) ensure(menuCount int) {
	if t.rows != nil {
		return
	}
	t.rows = make([][]Action, numEvents)
	for i := range t.rows {
		t.rows[i] = make([]Action, menuCount)
	}
}

func (t *bindingTable) set(ev Event, level int, a Action) {
	t.rows[ev][level] = a
}

func (t *bindingTable) clear(ev Event, level int) {
	if t.rows == nil {
		return
	}
	t.rows[ev][level] = nil
}

func (t *bindingTable) get(ev Event, level int) Action {
	if t.rows == nil || level < 0 || level >= len(t.rows[ev]) {
		return nil
	}
	return t.rows[ev][level]
}
