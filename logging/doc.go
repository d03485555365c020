// Package logging provides the minimal structured-logging interface used
// across scope, compiler and runtime: a logrus-subset Logger (grounded on
// the teacher monorepo's sql/log.Logger) with a Discard no-op default, and
// a production backend built on github.com/joeycumines/logiface with the
// github.com/joeycumines/stumpy event implementation. The eventloop
// package (this project's teacher) declares logiface as a dependency but
// only exercises it from tests; here it backs real logging.
package logging
