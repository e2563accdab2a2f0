// Package crawler evaluates a whole site: a bounded, level-synchronous
// breadth-first crawl over same-origin links that hands every discovered page
// to the page evaluator and folds the reports into a SiteReport.
package crawler
