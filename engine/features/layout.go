package features

// Layout is the block structure of an embedding. Blocks are written at fixed
// offsets in declaration order; a zero width disables the block.
type Layout struct {
	Text       int `koanf:"text" json:"text"`
	Financial  int `koanf:"financial" json:"financial"`
	Behavioral int `koanf:"behavioral" json:"behavioral"`
	Document   int `koanf:"document" json:"document"`
}

// DefaultLayout is the 384-wide profile layout.
func DefaultLayout() Layout {
	return Layout{Text: 128, Financial: 128, Behavioral: 128}
}

// MultimodalLayout appends a 512-wide document image block.
func MultimodalLayout() Layout {
	l := DefaultLayout()
	l.Document = 512
	return l
}

// Dim is the total embedding width, which is also the collection dimension.
func (l Layout) Dim() int {
	return l.Text + l.Financial + l.Behavioral + l.Document
}

func (l Layout) financialOffset() int  { return l.Text }
func (l Layout) behavioralOffset() int { return l.Text + l.Financial }
func (l Layout) documentOffset() int   { return l.Text + l.Financial + l.Behavioral }
