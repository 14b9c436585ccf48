package jobs

import "time"

func (o *Orchestrator) SetNow(f func() time.Time) { o.now = f }

func (o *Orchestrator) SetIDFunc(f func() string) { o.newID = f }
