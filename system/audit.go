package system

import "fmt"

// auditlog records bans and other security events, and copies them to the
// Telegram admin chat when notices are enabled.
func (s *System) auditlog(format string, i ...interface{}) {
	str := fmt.Sprintf(format, i...)
	s.audit.Warn(str)
	if s.notify != nil {
		s.notify.Notify("[audit] " + s.config.Meta.SiteName + "\n\n" + str)
	}
}
