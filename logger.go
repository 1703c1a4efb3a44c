package eventbus

import "github.com/sirupsen/logrus"

func newLogger(backend string) *logrus.Entry {
	return logrus.StandardLogger().WithFields(logrus.Fields{
		"component": "eventbus",
		"backend":   backend,
	})
}
