// Package jenkins implements the platform client for Jenkins pipelines. Jobs and
// builds are read through range-paginated api/json trees and stage timings come
// from the Pipeline Stage View wfapi/describe endpoint.
package jenkins
