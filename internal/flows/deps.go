package flows

// Deps groups flow dependency sets. The root Manager builds this once per
// bound store and delegates to the matching flow.
type Deps struct {
	Gate    GateDeps
	Execute ExecuteDeps
}
