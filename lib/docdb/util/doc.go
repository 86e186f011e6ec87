// Package util provides helpers shared by the docdb engines:
//   - HashString / GenerateSeed: seeded FNV-1a hashing used for shard selection and id derivation
//   - SizeHistogram: bucketed size distribution used to estimate the database size
//   - Stats / DistributionStats: summary statistics of shard sizes
package util
