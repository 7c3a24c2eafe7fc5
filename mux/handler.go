package mux

// Handler receives channel events. Methods are called from the connection's
// read goroutine, or the goroutine that closed the channel, and must not
// block.
type Handler interface {
	OnOpen(ch *Channel, message string)
	OnData(ch *Channel, d Data)
	OnSignal(ch *Channel, s Signal)

	// OnClose is called once when the channel is destroyed. err is nil
	// after a clean close.
	OnClose(ch *Channel, err error)
}

// HandlerFuncs adapts functions to a Handler. Nil fields are ignored.
type HandlerFuncs struct {
	Open   func(ch *Channel, message string)
	Data   func(ch *Channel, d Data)
	Signal func(ch *Channel, s Signal)
	Close  func(ch *Channel, err error)
}

func (h HandlerFuncs) OnOpen(ch *Channel, message string) {
	if h.Open != nil {
		h.Open(ch, message)
	}
}

func (h HandlerFuncs) OnData(ch *Channel, d Data) {
	if h.Data != nil {
		h.Data(ch, d)
	}
}

func (h HandlerFuncs) OnSignal(ch *Channel, s Signal) {
	if h.Signal != nil {
		h.Signal(ch, s)
	}
}

func (h HandlerFuncs) OnClose(ch *Channel, err error) {
	if h.Close != nil {
		h.Close(ch, err)
	}
}
