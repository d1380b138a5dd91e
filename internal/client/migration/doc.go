// Package migration moves attachments stored under the old display-name key
// layout to keys derived from the stable user id.
//
// Objects are copied, never moved: the legacy object stays in place until
// Cleanup confirms the new key is populated and the document has been
// pushed with it. Until then reads may fall back to the legacy key.
package migration
