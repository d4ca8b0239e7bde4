package messaging

// Topic constants for miner events
const (
	TopicJobs         = "pow.jobs"          // job changes, protobuf Struct
	TopicShareResults = "pow.share_results" // one per submission, JSON
	TopicHashrate     = "pow.hashrate"      // one per batch, JSON
)
