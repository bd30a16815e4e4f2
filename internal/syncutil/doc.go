// Package syncutil provides small concurrency helpers: WaitGroup-tracked
// goroutines and a bounded worker pool used to run update handlers.
package syncutil
