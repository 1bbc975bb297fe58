package redis

// Redis key naming conventions for bulkpanel data.
// All keys are prefixed with "bulkpanel:" to avoid collisions.

const keyPrefix = "bulkpanel:"

// jobKey returns the Hash key for a job record: bulkpanel:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// logsKey returns the List key for a job's log feed: bulkpanel:logs:{id}
func logsKey(id string) string { return keyPrefix + "logs:" + id }

// resultsKey returns the List key for a job's item outcomes: bulkpanel:results:{id}
func resultsKey(id string) string { return keyPrefix + "results:" + id }

// stopKey returns the key holding the stop flag: bulkpanel:stop:{id}
func stopKey(id string) string { return keyPrefix + "stop:" + id }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"
