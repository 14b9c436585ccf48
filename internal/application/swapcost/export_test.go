package swapcost

import "time"

// SetNow reemplaza el reloj del estimador en tests.
func (e *Estimator) SetNow(f func() time.Time) {
	e.now = f
}
