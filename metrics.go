package textgan

// Mean Running mean of observed values since last reset
type Mean struct {
	Name  string
	total float64
	count int
}

// NewMean Constructor for Mean
func NewMean(name string) *Mean {
	return &Mean{Name: name}
}

// Update Adds new observation
func (m *Mean) Update(v float64) {
	m.total += v
	m.count++
}

// Result Returns mean of observations. Zero if there were no observations
func (m *Mean) Result() float64 {
	if m.count == 0 {
		return 0
	}
	return m.total / float64(m.count)
}

// Count Returns number of observations
func (m *Mean) Count() int {
	return m.count
}

// Reset Drops all observations
func (m *Mean) Reset() {
	m.total = 0
	m.count = 0
}

// EpochLoss Mean losses of a single epoch. Discriminator is zero for trainers without discriminator
type EpochLoss struct {
	Epoch         int
	Generator     float64
	Discriminator float64
}

// StepLoss Losses of a single optimization step
type StepLoss struct {
	Generator     float64
	Discriminator float64
}
