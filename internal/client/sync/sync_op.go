package sync

// Outcome is the result of reconciling one path during a pass
type Outcome string

const (
	OutcomeDownloaded    Outcome = "Downloaded"
	OutcomeUploaded      Outcome = "Uploaded"
	OutcomeUpdated       Outcome = "Updated"
	OutcomeDeletedLocal  Outcome = "DeletedLocal"
	OutcomeDeletedRemote Outcome = "DeletedRemote"
	OutcomeConflict      Outcome = "Conflict"
	OutcomeSkipped       Outcome = "Skipped"
	OutcomeFailed        Outcome = "Failed"
	OutcomeUnchanged     Outcome = "Unchanged"
)

// IsTransfer reports whether the outcome moved data or deleted something
func (o Outcome) IsTransfer() bool {
	switch o {
	case OutcomeDownloaded, OutcomeUploaded, OutcomeUpdated,
		OutcomeDeletedLocal, OutcomeDeletedRemote, OutcomeConflict:
		return true
	}
	return false
}

// Strategy names one of the reconciliation strategies a pass can run
type Strategy string

const (
	StrategyFullCrawl   Strategy = "FullCrawl"
	StrategyRemoteCrawl Strategy = "RemoteCrawl"
	StrategyChangeLog   Strategy = "ChangeLog"
	StrategyWatcher     Strategy = "Watcher"
)
