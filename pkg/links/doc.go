/*
Package links holds the builtin stage implementations.

tag appends name:value tags to the document, sampler deterministically
filters a configurable fraction of items, webhook POSTs the document to
one or more URLs, and deflect hands processing to another document.
Anything beyond these runs out of process through the registry's
external stage contract.
*/
package links
