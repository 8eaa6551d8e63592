package stt

import "testing"

// collect drains a submission and returns every result plus the terminal error.
func collect(t *testing.T, results <-chan Result, errs <-chan error) ([]Result, error) {
	t.Helper()
	var out []Result
	for r := range results {
		out = append(out, r)
	}
	var err error
	for e := range errs {
		if err == nil {
			err = e
		}
	}
	return out, err
}
