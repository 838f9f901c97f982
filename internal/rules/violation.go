package rules

// ViolationCode identifies a specific legality failure
type ViolationCode string

const (
	CodeMustIncludeOpening ViolationCode = "must-include-opening-card"
	CodeEmptyPlay          ViolationCode = "empty-play"
	CodeTooManyCards       ViolationCode = "too-many-cards"
	CodeSizeMismatch       ViolationCode = "size-mismatch"
	CodeWeakerSingle       ViolationCode = "weaker-single"
	CodeNotAPair           ViolationCode = "not-a-pair"
	CodeWeakerPair         ViolationCode = "weaker-pair"
	CodeNotATriple         ViolationCode = "not-a-triple"
	CodeWeakerTriple       ViolationCode = "weaker-triple"
	CodeNoFourCardPlay     ViolationCode = "no-four-card-play"
	CodeInvalidHand        ViolationCode = "invalid-hand"
	CodeWeakerClass        ViolationCode = "weaker-class"
	CodeLowerSuit          ViolationCode = "lower-suit"
	CodeWeakerHand         ViolationCode = "weaker-hand"
)

// Violation is a legality failure reported to the acting player. It is
// recoverable: the play is rejected and game state is unchanged.
type Violation struct {
	Code    ViolationCode
	Message string
}

// Error implements the error interface
func (v *Violation) Error() string {
	return v.Message
}

func violation(code ViolationCode, message string) *Violation {
	return &Violation{Code: code, Message: message}
}

var (
	errMustIncludeOpening = violation(CodeMustIncludeOpening, "You must include the 3 of diamonds in your play")
	errEmptyPlay          = violation(CodeEmptyPlay, "You must select at least one card")
	errTooManyCards       = violation(CodeTooManyCards, "A play is at most 5 cards")
	errSizeMismatch       = violation(CodeSizeMismatch, "You must play the same number of cards as the previous play")
	errWeakerSingle       = violation(CodeWeakerSingle, "You must play a higher card than the previous play!")
	errNotAPair           = violation(CodeNotAPair, "A two card play must be a pair!")
	errWeakerPair         = violation(CodeWeakerPair, "You must play a higher pair than the previous play!")
	errNotATriple         = violation(CodeNotATriple, "A three card play must be a three of a kind!")
	errWeakerTriple       = violation(CodeWeakerTriple, "You must play a higher three of a kind than the previous play!")
	errNoFourCardPlay     = violation(CodeNoFourCardPlay, "There is no valid four card play!")
	errInvalidHand        = violation(CodeInvalidHand, "Invalid hand, try again!")
	errWeakerClass        = violation(CodeWeakerClass, "You need to play a stronger hand!")
	errLowerSuit          = violation(CodeLowerSuit, "You need to play a higher suit!")
	errWeakerHand         = violation(CodeWeakerHand, "You need to play a better hand!")
)
