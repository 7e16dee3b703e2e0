package plugin

import "github.com/denisvmedia/relaymitm/interceptor"

func init() {
	interceptor.Register("decoder", func() interceptor.Plugin { return &Decoder{} })
	interceptor.Register("log", func() interceptor.Plugin { return NewLog() })
}
