package rules

import "regexp"

// BuiltinRules returns the curated rule catalogue covering the domains
// named in spec.md §4.6 plus the secrets domain supplemented from the
// teacher's keyring/env-var handling.
func BuiltinRules() []Rule {
	priority := 100
	next := func() int { priority--; return priority }

	return []Rule{
		{ID: "db.dynamodb", Name: "DynamoDB call", Priority: next(), Enabled: true,
			Match: Match{CalleePattern: regexp.MustCompile(`(?i)dynamodb\.`)},
			Emit:  Emit{Domain: "Database", Action: "query", Metadata: map[string]string{"provider": "dynamodb"}}},
		{ID: "db.sql", Name: "Raw SQL call", Priority: next(), Enabled: true,
			Match: Match{CalleePattern: regexp.MustCompile(`\.(query|select)$`)},
			Emit:  Emit{Domain: "Database", Action: "query", Metadata: map[string]string{"provider": "sql"}}},
		{ID: "db.prisma", Name: "Prisma call", Priority: next(), Enabled: true,
			Match: Match{CalleePattern: regexp.MustCompile(`(?i)prisma\.`)},
			Emit:  Emit{Domain: "Database", Action: "query", Metadata: map[string]string{"provider": "prisma"}}},
		{ID: "db.kysely", Name: "Kysely call", Priority: next(), Enabled: true,
			Match: Match{CalleePattern: regexp.MustCompile(`(?i)kysely\.`)},
			Emit:  Emit{Domain: "Database", Action: "query", Metadata: map[string]string{"provider": "kysely"}}},

		{ID: "payment.stripe", Name: "Stripe call", Priority: next(), Enabled: true,
			Match: Match{CalleePattern: regexp.MustCompile(`(?i)stripe\.`)},
			Emit:  Emit{Domain: "Payment", Action: "charge", Metadata: map[string]string{"provider": "stripe"}}},

		{ID: "auth.jwt", Name: "JWT operation", Priority: next(), Enabled: true,
			Match: Match{CalleePattern: regexp.MustCompile(`(?i)jwt\.(sign|verify|decode)`)},
			Emit:  Emit{Domain: "Auth", Action: "token", Metadata: map[string]string{"provider": "jwt"}}},
		{ID: "auth.bcrypt", Name: "bcrypt operation", Priority: next(), Enabled: true,
			Match: Match{CalleePattern: regexp.MustCompile(`(?i)bcrypt\.`)},
			Emit:  Emit{Domain: "Auth", Action: "hash", Metadata: map[string]string{"provider": "bcrypt"}}},
		{ID: "auth.cognito", Name: "Cognito call", Priority: next(), Enabled: true,
			Match: Match{CalleePattern: regexp.MustCompile(`(?i)cognito\.`)},
			Emit:  Emit{Domain: "Auth", Action: "identity", Metadata: map[string]string{"provider": "cognito"}}},
		{ID: "auth.keyring", Name: "OS keyring auth call", Priority: next(), Enabled: true,
			Match: Match{CalleePattern: regexp.MustCompile(`(?i)keyring\.(get|set)password`)},
			Emit:  Emit{Domain: "Auth", Action: "credential", Metadata: map[string]string{"provider": "keyring"}}},

		{ID: "http.fetch", Name: "fetch call", Priority: next(), Enabled: true,
			Match: Match{CalleePattern: regexp.MustCompile(`^fetch$`)},
			Emit:  Emit{Domain: "HTTP", Action: "request", Metadata: map[string]string{"provider": "fetch"}}},
		{ID: "http.axios", Name: "axios call", Priority: next(), Enabled: true,
			Match: Match{CalleePattern: regexp.MustCompile(`(?i)axios\.`)},
			Emit:  Emit{Domain: "HTTP", Action: "request", Metadata: map[string]string{"provider": "axios"}}},

		{ID: "messaging.sqs", Name: "SQS call", Priority: next(), Enabled: true,
			Match: Match{CalleePattern: regexp.MustCompile(`(?i)sqs\.`)},
			Emit:  Emit{Domain: "Messaging", Action: "enqueue", Metadata: map[string]string{"provider": "sqs"}}},
		{ID: "messaging.sns", Name: "SNS call", Priority: next(), Enabled: true,
			Match: Match{CalleePattern: regexp.MustCompile(`(?i)sns\.`)},
			Emit:  Emit{Domain: "Messaging", Action: "publish", Metadata: map[string]string{"provider": "sns"}}},
		{ID: "messaging.eventbridge", Name: "EventBridge call", Priority: next(), Enabled: true,
			Match: Match{CalleePattern: regexp.MustCompile(`(?i)eventbridge\.`)},
			Emit:  Emit{Domain: "Messaging", Action: "publish", Metadata: map[string]string{"provider": "eventbridge"}}},

		{ID: "storage.s3", Name: "S3 call", Priority: next(), Enabled: true,
			Match: Match{CalleePattern: regexp.MustCompile(`(?i)s3\.`)},
			Emit:  Emit{Domain: "Storage", Action: "object", Metadata: map[string]string{"provider": "s3"}}},
		{ID: "storage.fs", Name: "filesystem call", Priority: next(), Enabled: true,
			Match: Match{CalleePattern: regexp.MustCompile(`(?i)^fs\.(read|write)`)},
			Emit:  Emit{Domain: "Storage", Action: "file", Metadata: map[string]string{"provider": "filesystem"}}},

		{ID: "observability.console", Name: "console call", Priority: next(), Enabled: true,
			Match: Match{CalleePattern: regexp.MustCompile(`^console\.`)},
			Emit:  Emit{Domain: "Observability", Action: "log", Metadata: map[string]string{"provider": "console"}}},
		{ID: "observability.datadog", Name: "Datadog call", Priority: next(), Enabled: true,
			Match: Match{CalleePattern: regexp.MustCompile(`(?i)datadog\.`)},
			Emit:  Emit{Domain: "Observability", Action: "metric", Metadata: map[string]string{"provider": "datadog"}}},

		{ID: "secrets.env", Name: "environment variable read", Priority: next(), Enabled: true,
			Match: Match{CalleePattern: regexp.MustCompile(`(?i)(process\.env|os\.Getenv)`)},
			Emit:  Emit{Domain: "Secrets", Action: "read", Metadata: map[string]string{"provider": "env"}}},
		{ID: "secrets.keyring", Name: "keychain/keyring secret access", Priority: next(), Enabled: true,
			Match: Match{CalleePattern: regexp.MustCompile(`(?i)keyring\.`)},
			Emit:  Emit{Domain: "Secrets", Action: "access", Metadata: map[string]string{"provider": "keyring"}}},
	}
}
