// Command kafkapub publishes records through a ProducerFactory.
//
// Usage:
//
//	kafkapub publish orders '{"id":1}' '{"id":2}'
//	echo hello | kafkapub publish greetings --key user-1
//	kafkapub publish payments a b c --transactional-id-prefix payments-
//
// Settings come from flags, a YAML file (--config) and KAFKAPUB_* environment
// variables, in that order of precedence.
package main

import (
	"os"

	"github.com/loipv/kafka-producer-factory/cmd/kafkapub/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
