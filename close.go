package geoset

// Close stops background checkpointing and releases the journal and engine
// resources. In-flight state that has not been committed to a snapshot
// remains recoverable from the journal on local datasets and is lost on
// store datasets.
//
// Close is idempotent.
func (a *Associator) Close() error {
	if a == nil {
		return nil
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	if a.done != nil {
		close(a.done)
	}
	a.mu.Unlock()

	// The worker may be mid-commit and needs a.mu, so it must be waited on
	// without holding the lock.
	a.wg.Wait()

	var firstErr error

	if err := a.eng.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if a.pm != nil {
		if err := a.pm.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
