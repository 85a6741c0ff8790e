package checkout

// Step is a stage of the checkout flow.
type Step string

const (
	StepShipping     Step = "shipping"
	StepPayment      Step = "payment"
	StepReview       Step = "review"
	StepConfirmation Step = "confirmation"
)

var stepOrder = []Step{StepShipping, StepPayment, StepReview, StepConfirmation}

// Index is the position of s in the flow, or -1 for unknown steps.
func (s Step) Index() int {
	for i, st := range stepOrder {
		if st == s {
			return i
		}
	}
	return -1
}

func (s Step) Valid() bool {
	return s.Index() >= 0
}

func (s Step) Next() (Step, bool) {
	i := s.Index()
	if i < 0 || i == len(stepOrder)-1 {
		return s, false
	}
	return stepOrder[i+1], true
}

func (s Step) Previous() (Step, bool) {
	i := s.Index()
	if i <= 0 {
		return s, false
	}
	return stepOrder[i-1], true
}
