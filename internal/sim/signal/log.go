package signal

// Log is the append-only record of the signals emitted during the current
// round. The owning world clears it at the start of every round.
type Log struct {
	round   int
	signals []Signal
}

func NewLog() *Log {
	return &Log{round: -1}
}

// Reset empties the log and tags it with the round about to run.
func (l *Log) Reset(round int) {
	clear(l.signals)
	l.signals = l.signals[:0]
	l.round = round
}

func (l *Log) Add(s Signal) {
	l.signals = append(l.signals, s)
}

func (l *Log) Round() int { return l.round }
func (l *Log) Len() int   { return len(l.signals) }

// Signals returns a copy of the round's signals in emission order. Handing the
// copy to a recorder leaves the log itself intact.
func (l *Log) Signals() []Signal {
	out := make([]Signal, len(l.signals))
	copy(out, l.signals)
	return out
}
